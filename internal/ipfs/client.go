package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

var ErrUploadFailed = errors.New("ipfs upload failed")

// Client publishes metadata files to an nft.storage compatible pinning
// service and resolves the public gateway URI for pinned content.
type Client struct {
	baseURL     string
	token       string
	gatewayBase string
	http        *http.Client
}

func NewClient(baseURL, token, gatewayBase string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		gatewayBase: strings.TrimRight(gatewayBase, "/"),
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type uploadResponse struct {
	Ok    bool `json:"ok"`
	Value struct {
		Cid string `json:"cid"`
	} `json:"value"`
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// Upload posts a single named file as a multipart body so the service wraps
// it in a directory, which keeps the file name addressable under the CID.
// Returns the directory CID.
func (c *Client) Upload(ctx context.Context, filename string, contents []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}
	if _, err := part.Write(contents); err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrUploadFailed, err)
	}

	var parsed uploadResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: unexpected response (status %d)", ErrUploadFailed, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !parsed.Ok {
		if parsed.Error.Message != "" {
			return "", fmt.Errorf("%w: %s: %s", ErrUploadFailed, parsed.Error.Name, parsed.Error.Message)
		}
		return "", fmt.Errorf("%w: status %d", ErrUploadFailed, resp.StatusCode)
	}
	if parsed.Value.Cid == "" {
		return "", fmt.Errorf("%w: response missing cid", ErrUploadFailed)
	}

	return parsed.Value.Cid, nil
}

// GatewayURI returns the public HTTP gateway address for a mint's metadata
// file inside an uploaded directory.
func (c *Client) GatewayURI(cid, mint string) string {
	return fmt.Sprintf("%s/%s/%s.json", c.gatewayBase, cid, mint)
}
