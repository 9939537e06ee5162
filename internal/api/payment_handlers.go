package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/kamakura-labs/rankup-server/internal/chain"
	"github.com/kamakura-labs/rankup-server/internal/database"
	"github.com/kamakura-labs/rankup-server/internal/rankup"
)

// HandlePaymentCreate opens a payment for an existing task. The amount is
// the task's quoted price; payments are not refundable.
func (s *API) HandlePaymentCreate(w http.ResponseWriter, r *http.Request) {
	var req PaymentCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Cannot parse JSON", http.StatusBadRequest)
		return
	}

	account := authedPubkey(r)

	task, err := s.Store.GetTask(req.TaskID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Task not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load task", http.StatusInternalServerError)
		return
	}

	if task.Account != account {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if task.Finalized {
		http.Error(w, "Task already finalized", http.StatusConflict)
		return
	}

	payment, err := s.Store.CreatePayment(account, task.ID)
	if err != nil {
		log.Printf("Error creating payment for task %d: %v", task.ID, err)
		http.Error(w, "Failed to create payment", http.StatusInternalServerError)
		return
	}

	writeData(w, http.StatusCreated, payment)
}

func (s *API) HandlePaymentGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid payment id", http.StatusBadRequest)
		return
	}

	payment, err := s.Store.GetPayment(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Payment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load payment", http.StatusInternalServerError)
		return
	}

	if payment.Account != authedPubkey(r) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	writeData(w, http.StatusOK, payment)
}

func (s *API) HandlePaymentList(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	if account != authedPubkey(r) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	payments, err := s.Store.ListPayments(account, pageParam(r))
	if err != nil {
		http.Error(w, "Failed to list payments", http.StatusInternalServerError)
		return
	}

	writeData(w, http.StatusOK, payments)
}

// HandlePaymentReceived settles a paid task: the fee transaction is confirmed
// on-chain, the payment is marked settled and the rank-up pipeline runs.
// Redelivery of the same payment is a no-op once the task is finalized.
func (s *API) HandlePaymentReceived(w http.ResponseWriter, r *http.Request) {
	var req PaymentReceiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Cannot parse JSON", http.StatusBadRequest)
		return
	}

	payment, err := s.Store.GetPayment(req.PaymentID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Payment not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load payment", http.StatusInternalServerError)
		return
	}

	if payment.Account != authedPubkey(r) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	task, err := s.Store.GetTask(payment.TaskID)
	if err != nil {
		http.Error(w, "Failed to load task", http.StatusInternalServerError)
		return
	}

	if task.Finalized {
		writeData(w, http.StatusOK, TaskResultResponse{
			TaskID:  task.ID,
			Success: task.Success,
			Message: "Task already settled",
		})
		return
	}

	// The fee transaction must be confirmed before the pipeline consumes the
	// payment. An unconfirmed or failed transaction leaves the task open.
	if err := s.Chain.ConfirmTransaction(r.Context(), req.Tx); err != nil {
		if errors.Is(err, chain.ErrConfirmationTimeout) {
			http.Error(w, "Payment transaction not confirmed in time", http.StatusGatewayTimeout)
			return
		}
		log.Printf("Payment tx %s rejected: %v", req.Tx, err)
		http.Error(w, "Payment transaction invalid", http.StatusPaymentRequired)
		return
	}

	if err := s.Store.ConfirmPayment(payment.ID, req.Tx); err != nil {
		if errors.Is(err, database.ErrTaskAlreadyPaid) {
			http.Error(w, "Task already has a settled payment", http.StatusConflict)
			return
		}
		log.Printf("Error confirming payment %d: %v", payment.ID, err)
		http.Error(w, "Failed to confirm payment", http.StatusInternalServerError)
		return
	}

	succeeded, err := s.Orchestrator.Run(r.Context(), task, payment)
	if err != nil {
		if errors.Is(err, rankup.ErrAlreadyFinalized) {
			writeData(w, http.StatusOK, TaskResultResponse{
				TaskID:  task.ID,
				Success: succeeded,
				Message: "Task already settled",
			})
			return
		}
		// The payment is consumed either way. Report the outcome with the
		// pipeline error so the caller can surface it.
		log.Printf("Rank-up pipeline for task %d: %v", task.ID, err)
		writeData(w, http.StatusOK, TaskResultResponse{
			TaskID:  task.ID,
			Success: succeeded,
			Message: err.Error(),
		})
		return
	}

	writeData(w, http.StatusOK, TaskResultResponse{
		TaskID:  task.ID,
		Success: succeeded,
	})
}
