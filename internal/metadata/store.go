package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrFetchFailed covers network and parse failures while reading a
	// document from its declared URI. Transient: the whole attempt may be
	// retried by the caller.
	ErrFetchFailed = errors.New("failed to fetch metadata uri")

	// ErrWriteFailed covers failures persisting a document to the local
	// store.
	ErrWriteFailed = errors.New("failed to save metadata document")
)

// Store fetches documents over HTTP and persists them to a local directory
// keyed by mint address. The publish step reads the persisted bytes back
// rather than re-serializing an in-memory value, so a crash between persist
// and upload is recoverable from disk.
type Store struct {
	dir    string
	client *http.Client
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	return &Store{
		dir:    dir,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Fetch performs a GET of the token's declared metadata URI and parses the
// document. Presence of the Rank attribute is not checked here; see
// Document.RankAttribute.
func (s *Store) Fetch(ctx context.Context, uri string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: uri returned status %s", ErrFetchFailed, resp.Status)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	return &doc, nil
}

// Persist writes the document for the given mint to the local store.
func (s *Store) Persist(mint string, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := os.WriteFile(s.Path(mint), data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// ReadRaw returns the exact persisted bytes for the given mint. These are
// the bytes the publication pipeline uploads.
func (s *Store) ReadRaw(mint string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(mint))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return data, nil
}

// Path returns the on-disk location of a mint's document.
func (s *Store) Path(mint string) string {
	return filepath.Join(s.dir, mint+".json")
}
