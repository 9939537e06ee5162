package api

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/kamakura-labs/rankup-server/internal/database"
)

// HandleNonceRequest issues a fresh login nonce for a pubkey, registering
// the account on first contact.
func (s *API) HandleNonceRequest(w http.ResponseWriter, r *http.Request) {
	pubkey := r.PathValue("pubkey")

	if _, err := solana.PublicKeyFromBase58(pubkey); err != nil {
		http.Error(w, "Invalid public key", http.StatusBadRequest)
		return
	}

	account, err := s.Store.IssueNonce(pubkey)
	if err != nil {
		log.Printf("Error issuing nonce for %s: %v", pubkey, err)
		http.Error(w, "Failed to issue nonce", http.StatusInternalServerError)
		return
	}

	writeData(w, http.StatusOK, account)
}

// HandleLogin verifies an ed25519 signature over the account's current nonce
// and exchanges it for a bearer token. The nonce is rotated on success so the
// signature cannot be replayed.
func (s *API) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Cannot parse JSON", http.StatusBadRequest)
		return
	}

	account, err := s.Store.GetAccount(req.Pubkey)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "Unknown account", http.StatusUnauthorized)
			return
		}
		http.Error(w, "Failed to load account", http.StatusInternalServerError)
		return
	}

	pubkey, err := solana.PublicKeyFromBase58(req.Pubkey)
	if err != nil {
		http.Error(w, "Invalid public key", http.StatusBadRequest)
		return
	}

	signature, err := solana.SignatureFromBase58(req.Signature)
	if err != nil {
		http.Error(w, "Invalid signature encoding", http.StatusBadRequest)
		return
	}

	if !ed25519.Verify(ed25519.PublicKey(pubkey.Bytes()), []byte(account.Nonce), signature[:]) {
		log.Printf("Signature verification failed for %s", req.Pubkey)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	if err := s.Store.RotateNonce(req.Pubkey); err != nil {
		log.Printf("Error rotating nonce for %s: %v", req.Pubkey, err)
		http.Error(w, "Failed to rotate nonce", http.StatusInternalServerError)
		return
	}

	tokenString, err := GenerateJWT(req.Pubkey)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeData(w, http.StatusOK, map[string]string{"token": tokenString})
}
