package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kamakura-labs/rankup-server/internal/database"
	"github.com/kamakura-labs/rankup-server/internal/rankup"
)

// TxConfirmer waits for a fee transaction to reach confirmed commitment.
type TxConfirmer interface {
	ConfirmTransaction(ctx context.Context, signature string) error
}

type API struct {
	Store        *database.Store
	Chain        TxConfirmer
	Orchestrator *rankup.Orchestrator
}

// LoginRequest carries the signed nonce proving control of a pubkey.
type LoginRequest struct {
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

type TaskCreateRequest struct {
	MintAddress string `json:"mint_address"`
}

type PaymentCreateRequest struct {
	TaskID uint `json:"task_id"`
}

// PaymentReceiveRequest is the webhook payload delivered once the fee
// transaction has been submitted.
type PaymentReceiveRequest struct {
	PaymentID uint   `json:"payment_id"`
	Tx        string `json:"tx"`
}

type TaskResultResponse struct {
	TaskID  uint   `json:"task_id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SysResponse is the envelope every successful endpoint responds with.
type SysResponse struct {
	Data interface{} `json:"data"`
}

type contextKey string

const pubkeyContextKey = contextKey("pubkey")

func writeData(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(SysResponse{Data: v})
}
