package rankup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kamakura-labs/rankup-server/internal/chain"
	"github.com/kamakura-labs/rankup-server/internal/database"
	"github.com/kamakura-labs/rankup-server/internal/logger"
	"github.com/kamakura-labs/rankup-server/internal/metadata"
	"github.com/kamakura-labs/rankup-server/internal/rank"
)

var (
	ErrCooldown         = errors.New("mint is in cooldown")
	ErrAlreadyFinalized = errors.New("task already finalized")
)

// Chain is the on-chain surface the pipeline needs: collection membership
// plus the metadata pointer commit.
type Chain interface {
	VerifyCollection(ctx context.Context, mintAddress string) (*chain.Metadata, error)
	UpdateMetadataURI(ctx context.Context, mintAddress, newURI string) (string, error)
}

// MetadataStore fetches the current off-chain document and persists the
// advanced one locally before publication.
type MetadataStore interface {
	Fetch(ctx context.Context, uri string) (*metadata.Document, error)
	Persist(mint string, doc *metadata.Document) error
	ReadRaw(mint string) ([]byte, error)
}

// Publisher pins metadata to content-addressed storage and resolves the
// gateway URI committed on-chain.
type Publisher interface {
	Upload(ctx context.Context, filename string, contents []byte) (string, error)
	GatewayURI(cid, mint string) string
}

// Orchestrator runs the rank-up settlement pipeline. Runs for the same mint
// are serialized; runs for different mints proceed concurrently.
type Orchestrator struct {
	store     *database.Store
	chain     Chain
	metadata  MetadataStore
	publisher Publisher
	engine    *rank.Engine

	cooldown      time.Duration
	cooldownBasis string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewOrchestrator(store *database.Store, ch Chain, ms MetadataStore, pub Publisher, engine *rank.Engine, cooldown time.Duration, cooldownBasis string) *Orchestrator {
	return &Orchestrator{
		store:         store,
		chain:         ch,
		metadata:      ms,
		publisher:     pub,
		engine:        engine,
		cooldown:      cooldown,
		cooldownBasis: cooldownBasis,
		locks:         make(map[string]*sync.Mutex),
	}
}

// mintLock returns the mutex guarding a mint, creating it on first use.
// Locks are never removed; the key space is bounded by the collection size.
func (o *Orchestrator) mintLock(mint string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	m, ok := o.locks[mint]
	if !ok {
		m = &sync.Mutex{}
		o.locks[mint] = m
	}
	return m
}

// QuotePrice verifies the mint belongs to the collection, reads its current
// rank and returns the fee for one advancement attempt from that rank.
func (o *Orchestrator) QuotePrice(ctx context.Context, mintAddress string) (int64, error) {
	meta, err := o.chain.VerifyCollection(ctx, mintAddress)
	if err != nil {
		return 0, err
	}

	doc, err := o.metadata.Fetch(ctx, meta.URI)
	if err != nil {
		return 0, err
	}

	current, err := doc.RankAttribute()
	if err != nil {
		return 0, err
	}

	return o.engine.Table().Price(current)
}

// CheckCooldown rejects a new task for a mint that ranked up too recently.
// The basis decides whether only successful attempts start the clock or any
// attempt does.
func (o *Orchestrator) CheckCooldown(mintAddress string) error {
	var (
		last *database.History
		err  error
	)
	if o.cooldownBasis == "attempt" {
		last, err = o.store.LatestAttempt(mintAddress)
	} else {
		last, err = o.store.LatestSuccess(mintAddress)
	}
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	remaining := o.cooldown - time.Since(last.FinishedAt)
	if remaining > 0 {
		return fmt.Errorf("%w: %s remaining", ErrCooldown, remaining.Round(time.Second))
	}
	return nil
}

// Run executes the settlement pipeline for a paid task: verify the mint,
// fetch its metadata, draw the advancement, publish the new document and
// commit the pointer on-chain. Every path finalizes the task and appends one
// history row, so payments are consumed exactly once. Returns whether the
// rank advanced.
func (o *Orchestrator) Run(ctx context.Context, task *database.Task, payment *database.Payment) (bool, error) {
	// The payment is already consumed, so a caller disconnect must not
	// abort the settlement in flight. The pipeline runs to completion on a
	// detached context.
	ctx = context.WithoutCancel(ctx)

	lock := o.mintLock(task.MintAddress)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a duplicate webhook delivery may have settled
	// this task while we waited.
	current, err := o.store.GetTask(task.ID)
	if err != nil {
		return false, err
	}
	if current.Finalized {
		return current.Success, ErrAlreadyFinalized
	}

	meta, err := o.chain.VerifyCollection(ctx, task.MintAddress)
	if err != nil {
		return o.settle(task, payment, "", "", false, err)
	}

	doc, err := o.metadata.Fetch(ctx, meta.URI)
	if err != nil {
		return o.settle(task, payment, "", "", false, err)
	}

	// A document without a rank attribute is a data-integrity reject,
	// reported distinctly from an unknown rank value.
	if _, err := doc.RankAttribute(); err != nil {
		return o.settle(task, payment, "", "", false, err)
	}

	advanced, succeeded, err := o.engine.Advance(doc.Attributes)
	if err != nil {
		return o.settle(task, payment, "", "", false, err)
	}
	if !succeeded {
		return o.settle(task, payment, "", "", false, nil)
	}

	doc.Attributes = advanced
	if err := o.metadata.Persist(task.MintAddress, doc); err != nil {
		return o.settle(task, payment, "", "", false, err)
	}

	raw, err := o.metadata.ReadRaw(task.MintAddress)
	if err != nil {
		return o.settle(task, payment, "", "", false, err)
	}

	cid, err := o.publisher.Upload(ctx, task.MintAddress+".json", raw)
	if err != nil {
		return o.settle(task, payment, "", "", false, err)
	}

	uri := o.publisher.GatewayURI(cid, task.MintAddress)
	sig, err := o.chain.UpdateMetadataURI(ctx, task.MintAddress, uri)
	if err != nil {
		// The advanced document is already pinned. Record the CID so the
		// stale on-chain pointer can be reconciled from history.
		return o.settle(task, payment, "", cid, true, fmt.Errorf("%w: %v", chain.ErrCommitFailed, err))
	}

	return o.settle(task, payment, sig, cid, true, nil)
}

// settle finalizes the task and appends the history row, then propagates
// the pipeline error if any. Bookkeeping failures are logged rather than
// returned so a late database hiccup never re-opens a consumed payment.
func (o *Orchestrator) settle(task *database.Task, payment *database.Payment, sig, cid string, succeeded bool, pipelineErr error) (bool, error) {
	if err := o.store.FinalizeTask(task.ID, succeeded); err != nil {
		logger.Error(fmt.Sprintf("Failed to finalize task %d: %v", task.ID, err))
	}

	row := &database.History{
		Account:     task.Account,
		MintAddress: task.MintAddress,
		PaymentID:   payment.ID,
		TaskID:      task.ID,
		Signature:   sig,
		Price:       task.Price,
		Success:     succeeded,
		CID:         cid,
		FinishedAt:  time.Now(),
	}
	if err := o.store.AppendHistory(row); err != nil {
		logger.Error(fmt.Sprintf("Failed to append history for task %d: %v", task.ID, err))
	}

	return succeeded, pipelineErr
}
