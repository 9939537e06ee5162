package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/kamakura-labs/rankup-server/internal/chain"
	"github.com/kamakura-labs/rankup-server/internal/database"
	"github.com/kamakura-labs/rankup-server/internal/metadata"
	"github.com/kamakura-labs/rankup-server/internal/rank"
	"github.com/kamakura-labs/rankup-server/internal/rankup"
	"github.com/spf13/viper"
)

const webhookMint = "7Xw4q2LkQpF3mGhT8vRbN5yJcD6eZsA1oUiHnK9PfB2x"

type stubConfirmer struct {
	err   error
	calls int
}

func (s *stubConfirmer) ConfirmTransaction(_ context.Context, _ string) error {
	s.calls++
	return s.err
}

type stubChain struct {
	commits int
}

func (s *stubChain) VerifyCollection(_ context.Context, mint string) (*chain.Metadata, error) {
	return &chain.Metadata{URI: "https://nftstorage.link/ipfs/bafyold/" + mint + ".json"}, nil
}

func (s *stubChain) UpdateMetadataURI(_ context.Context, _, _ string) (string, error) {
	s.commits++
	return "5CommitSig", nil
}

type stubMetaStore struct {
	raw []byte
}

func (s *stubMetaStore) Fetch(_ context.Context, _ string) (*metadata.Document, error) {
	return &metadata.Document{
		Name:       "Shinobi #42",
		Attributes: []metadata.Attribute{{TraitType: metadata.RankTraitType, Value: "Genin"}},
	}, nil
}

func (s *stubMetaStore) Persist(_ string, doc *metadata.Document) error {
	s.raw, _ = json.Marshal(doc)
	return nil
}

func (s *stubMetaStore) ReadRaw(_ string) ([]byte, error) {
	return s.raw, nil
}

type stubPublisher struct {
	uploads int
}

func (s *stubPublisher) Upload(_ context.Context, _ string, _ []byte) (string, error) {
	s.uploads++
	return "bafynew", nil
}

func (s *stubPublisher) GatewayURI(cid, mint string) string {
	return "https://nftstorage.link/ipfs/" + cid + "/" + mint + ".json"
}

type webhookFixture struct {
	server  *httptest.Server
	store   *database.Store
	ch      *stubChain
	pub     *stubPublisher
	token   string
	account string
}

// newWebhookFixture stands up the full hook path: a logged-in wallet, a task
// with one open payment, and a pipeline wired over in-memory doubles. The
// fixed draw always clears the Genin threshold.
func newWebhookFixture(t *testing.T, confirmer *stubConfirmer) *webhookFixture {
	t.Helper()

	viper.Set("allowed_origin", "http://localhost:3000")
	viper.Set("token_ttl", "30m")
	SetJWTKeyForTesting([]byte("0123456789abcdef0123456789abcdef"))

	store, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	ch := &stubChain{}
	pub := &stubPublisher{}
	engine := rank.NewEngineWithDraw(rank.DefaultTable(), func() int { return 70 })
	orch := rankup.NewOrchestrator(store, ch, &stubMetaStore{}, pub, engine, 12*time.Hour, "success")

	api := NewAPI(store, confirmer, orch)
	server := httptest.NewServer(api.Router())
	t.Cleanup(server.Close)

	wallet := solana.NewWallet()
	token := login(t, server, wallet)

	return &webhookFixture{
		server:  server,
		store:   store,
		ch:      ch,
		pub:     pub,
		token:   token,
		account: wallet.PublicKey().String(),
	}
}

func (f *webhookFixture) seedPaidTask(t *testing.T) (*database.Task, *database.Payment) {
	t.Helper()
	task, err := f.store.CreateTask(f.account, webhookMint, 200)
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	payment, err := f.store.CreatePayment(f.account, task.ID)
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return task, payment
}

func (f *webhookFixture) deliver(t *testing.T, paymentID uint, tx string) *http.Response {
	t.Helper()
	return postJSON(t, f.server.URL+"/payments/hook", f.token, PaymentReceiveRequest{
		PaymentID: paymentID,
		Tx:        tx,
	})
}

func TestWebhookSettlesPaidTask(t *testing.T) {
	f := newWebhookFixture(t, &stubConfirmer{})
	task, payment := f.seedPaidTask(t)

	resp := f.deliver(t, payment.ID, "5FeeTx")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var result TaskResultResponse
	decodeData(t, resp, &result)
	if !result.Success || result.TaskID != task.ID {
		t.Errorf("result = %+v", result)
	}

	settled, _ := f.store.GetPayment(payment.ID)
	if !settled.Success || settled.Tx != "5FeeTx" {
		t.Errorf("payment after hook = %+v", settled)
	}
	finalized, _ := f.store.GetTask(task.ID)
	if !finalized.Finalized || !finalized.Success {
		t.Errorf("task after hook = %+v", finalized)
	}
	if f.pub.uploads != 1 || f.ch.commits != 1 {
		t.Errorf("uploads = %d, commits = %d, want 1 and 1", f.pub.uploads, f.ch.commits)
	}

	rows, err := f.store.ListHistory(f.account, 1)
	if err != nil || len(rows) != 1 {
		t.Fatalf("history rows = %d (%v), want 1", len(rows), err)
	}
	if !rows[0].Success || rows[0].CID != "bafynew" {
		t.Errorf("history row = %+v", rows[0])
	}
}

func TestWebhookRedeliveryIsNoOp(t *testing.T) {
	f := newWebhookFixture(t, &stubConfirmer{})
	task, payment := f.seedPaidTask(t)

	first := f.deliver(t, payment.ID, "5FeeTx")
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first delivery status = %d", first.StatusCode)
	}

	second := f.deliver(t, payment.ID, "5FeeTx")
	if second.StatusCode != http.StatusOK {
		t.Fatalf("second delivery status = %d", second.StatusCode)
	}
	var result TaskResultResponse
	decodeData(t, second, &result)
	if !result.Success || result.TaskID != task.ID {
		t.Errorf("redelivery result = %+v", result)
	}
	if result.Message != "Task already settled" {
		t.Errorf("redelivery message = %q", result.Message)
	}

	// The pipeline must not run again.
	if f.pub.uploads != 1 || f.ch.commits != 1 {
		t.Errorf("uploads = %d, commits = %d after redelivery, want 1 and 1", f.pub.uploads, f.ch.commits)
	}
	rows, _ := f.store.ListHistory(f.account, 1)
	if len(rows) != 1 {
		t.Errorf("history rows = %d, want 1", len(rows))
	}
}

func TestWebhookConfirmationTimeout(t *testing.T) {
	confirmer := &stubConfirmer{err: chain.ErrConfirmationTimeout}
	f := newWebhookFixture(t, confirmer)
	task, payment := f.seedPaidTask(t)

	resp := f.deliver(t, payment.ID, "5FeeTx")
	resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}

	// The payment stays open so the hook can be retried.
	got, _ := f.store.GetPayment(payment.ID)
	if got.Success {
		t.Error("payment must not settle on a confirmation timeout")
	}
	open, _ := f.store.GetTask(task.ID)
	if open.Finalized {
		t.Error("task must stay open on a confirmation timeout")
	}
	if f.pub.uploads != 0 {
		t.Errorf("uploads = %d, want 0", f.pub.uploads)
	}
}

func TestWebhookRejectsFailedTransaction(t *testing.T) {
	confirmer := &stubConfirmer{err: errors.New("transaction failed on-chain")}
	f := newWebhookFixture(t, confirmer)
	_, payment := f.seedPaidTask(t)

	resp := f.deliver(t, payment.ID, "5FeeTx")
	resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", resp.StatusCode)
	}
	got, _ := f.store.GetPayment(payment.ID)
	if got.Success {
		t.Error("payment must not settle when the transaction is rejected")
	}
}

func TestWebhookRejectsSecondPaymentOnPaidTask(t *testing.T) {
	f := newWebhookFixture(t, &stubConfirmer{})
	task, _ := f.seedPaidTask(t)
	second, err := f.store.CreatePayment(f.account, task.ID)
	if err != nil {
		t.Fatalf("second payment: %v", err)
	}

	// Another delivery already confirmed a payment for this task but its
	// pipeline has not finalized the task yet.
	if err := f.store.ConfirmPayment(second.ID, "5OtherTx"); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	third, err := f.store.CreatePayment(f.account, task.ID)
	if err != nil {
		t.Fatalf("third payment: %v", err)
	}

	resp := f.deliver(t, third.ID, "5FeeTx")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	got, _ := f.store.GetPayment(third.ID)
	if got.Success {
		t.Error("second settled payment for one task must be rejected")
	}
}

func TestWebhookRejectsForeignPayment(t *testing.T) {
	f := newWebhookFixture(t, &stubConfirmer{})

	other := solana.NewWallet().PublicKey().String()
	task, err := f.store.CreateTask(other, webhookMint, 200)
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	payment, err := f.store.CreatePayment(other, task.ID)
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	resp := f.deliver(t, payment.ID, "5FeeTx")
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}
