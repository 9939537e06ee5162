package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/kamakura-labs/rankup-server/internal/chain"
	"github.com/kamakura-labs/rankup-server/internal/database"
	"github.com/kamakura-labs/rankup-server/internal/metadata"
	"github.com/kamakura-labs/rankup-server/internal/rank"
	"github.com/kamakura-labs/rankup-server/internal/rankup"
)

// HandleTaskCreate quotes and opens a rank-up task for a mint the caller
// wants to advance. The price is locked in at creation time.
func (s *API) HandleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req TaskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Cannot parse JSON", http.StatusBadRequest)
		return
	}

	if _, err := solana.PublicKeyFromBase58(req.MintAddress); err != nil {
		http.Error(w, "Invalid mint address", http.StatusBadRequest)
		return
	}

	account := authedPubkey(r)

	if err := s.Orchestrator.CheckCooldown(req.MintAddress); err != nil {
		if errors.Is(err, rankup.ErrCooldown) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		log.Printf("Error checking cooldown for %s: %v", req.MintAddress, err)
		http.Error(w, "Failed to check cooldown", http.StatusInternalServerError)
		return
	}

	price, err := s.Orchestrator.QuotePrice(r.Context(), req.MintAddress)
	if err != nil {
		switch {
		case errors.Is(err, chain.ErrNotInCollection):
			http.Error(w, "Mint is not part of the collection", http.StatusForbidden)
		case errors.Is(err, rank.ErrInvalidRank):
			http.Error(w, "Mint cannot rank up from its current rank", http.StatusBadRequest)
		case errors.Is(err, metadata.ErrNoRankAttribute):
			http.Error(w, "Mint metadata has no rank attribute", http.StatusUnprocessableEntity)
		default:
			log.Printf("Error quoting price for %s: %v", req.MintAddress, err)
			http.Error(w, "Failed to quote price", http.StatusBadGateway)
		}
		return
	}

	task, err := s.Store.CreateTask(account, req.MintAddress, price)
	if err != nil {
		log.Printf("Error creating task: %v", err)
		http.Error(w, "Failed to create task", http.StatusInternalServerError)
		return
	}

	writeData(w, http.StatusCreated, task)
}

func (s *API) HandleTaskGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, "Invalid task id", http.StatusBadRequest)
		return
	}

	task, err := s.Store.GetTask(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Task not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load task", http.StatusInternalServerError)
		return
	}

	if task.Account != authedPubkey(r) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	writeData(w, http.StatusOK, task)
}

func (s *API) HandleTaskList(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	if account != authedPubkey(r) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	tasks, err := s.Store.ListTasks(account, pageParam(r))
	if err != nil {
		http.Error(w, "Failed to list tasks", http.StatusInternalServerError)
		return
	}

	writeData(w, http.StatusOK, tasks)
}

func (s *API) HandleHistoryList(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	if account != authedPubkey(r) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	rows, err := s.Store.ListHistory(account, pageParam(r))
	if err != nil {
		http.Error(w, "Failed to list history", http.StatusInternalServerError)
		return
	}

	writeData(w, http.StatusOK, rows)
}

func pathID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
