package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/kamakura-labs/rankup-server/internal/database"
	"github.com/kamakura-labs/rankup-server/internal/rankup"
	"github.com/spf13/viper"
)

func NewAPI(store *database.Store, confirmer TxConfirmer, orchestrator *rankup.Orchestrator) *API {
	return &API{
		Store:        store,
		Chain:        confirmer,
		Orchestrator: orchestrator,
	}
}

func (s *API) CORSMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allowedOrigin := viper.GetString("allowed_origin")
		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// JWTMiddleware validates the bearer token and stores the authenticated
// pubkey on the request context.
func (s *API) JWTMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized: Authorization header missing", http.StatusUnauthorized)
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "Unauthorized: Invalid token format", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return GetJWTKey(), nil
		})

		if err != nil {
			if validationErr, ok := err.(*jwt.ValidationError); ok {
				if validationErr.Errors == jwt.ValidationErrorExpired {
					http.Error(w, "Token expired", http.StatusUnauthorized)
					return
				}
			}
			log.Println("Invalid token:", err)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}

		if !token.Valid {
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), pubkeyContextKey, claims.Pubkey)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// authedPubkey returns the pubkey the JWT middleware authenticated.
func authedPubkey(r *http.Request) string {
	pubkey, _ := r.Context().Value(pubkeyContextKey).(string)
	return pubkey
}

// Router builds the HTTP mux. Everything except the login endpoints and the
// health check requires a valid token.
func (s *API) Router() *http.ServeMux {
	mux := http.NewServeMux()

	open := func(h http.HandlerFunc) http.HandlerFunc {
		return ApplyMiddleware(h, JSONContentTypeMiddleware, s.CORSMiddleware, LoggingMiddleware, ErrorMiddleware)
	}
	protected := func(h http.HandlerFunc) http.HandlerFunc {
		return ApplyMiddleware(h, s.JWTMiddleware, JSONContentTypeMiddleware, s.CORSMiddleware, LoggingMiddleware, ErrorMiddleware)
	}

	mux.HandleFunc("GET /health", open(s.HandleHealth))
	mux.HandleFunc("POST /auth/{pubkey}", open(s.HandleNonceRequest))
	mux.HandleFunc("POST /auth", open(s.HandleLogin))

	mux.HandleFunc("POST /tasks", protected(s.HandleTaskCreate))
	mux.HandleFunc("GET /tasks/id/{id}", protected(s.HandleTaskGet))
	mux.HandleFunc("GET /tasks/account/{account}", protected(s.HandleTaskList))

	mux.HandleFunc("POST /payments", protected(s.HandlePaymentCreate))
	mux.HandleFunc("GET /payments/id/{id}", protected(s.HandlePaymentGet))
	mux.HandleFunc("GET /payments/account/{account}", protected(s.HandlePaymentList))
	mux.HandleFunc("POST /payments/hook", protected(s.HandlePaymentReceived))

	mux.HandleFunc("GET /history/account/{account}", protected(s.HandleHistoryList))

	return mux
}

// Serve runs the HTTP server until the context is cancelled.
func (s *API) Serve(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on port %d", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *API) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}
