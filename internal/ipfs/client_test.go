package ipfs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUpload(t *testing.T) {
	const cid = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization = %q", got)
		}
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/form-data") {
			t.Errorf("content type = %q", ct)
		}

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()

		if header.Filename != "mint.json" {
			t.Errorf("filename = %q", header.Filename)
		}
		body, _ := io.ReadAll(file)
		if string(body) != `{"name":"x"}` {
			t.Errorf("file body = %q", body)
		}

		w.Write([]byte(`{"ok":true,"value":{"cid":"` + cid + `"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-token", "https://nftstorage.link/ipfs")

	got, err := client.Upload(context.Background(), "mint.json", []byte(`{"name":"x"}`))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got != cid {
		t.Errorf("cid = %q, want %q", got, cid)
	}
}

func TestUploadErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"ok":false,"error":{"name":"HTTPError","message":"invalid token"}}`},
		{"server error", http.StatusInternalServerError, `{"ok":false}`},
		{"garbage body", http.StatusOK, `not json`},
		{"missing cid", http.StatusOK, `{"ok":true,"value":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, "t", "https://nftstorage.link/ipfs")
			if _, err := client.Upload(context.Background(), "m.json", []byte(`{}`)); !errors.Is(err, ErrUploadFailed) {
				t.Errorf("error = %v, want ErrUploadFailed", err)
			}
		})
	}
}

func TestGatewayURI(t *testing.T) {
	client := NewClient("https://api.nft.storage", "t", "https://nftstorage.link/ipfs/")

	got := client.GatewayURI("bafyexample", "7Xw4q2LkQpF3mGhT8vRbN5yJcD6eZsA1oUiHnK9PfB2x")
	want := "https://nftstorage.link/ipfs/bafyexample/7Xw4q2LkQpF3mGhT8vRbN5yJcD6eZsA1oUiHnK9PfB2x.json"
	if got != want {
		t.Errorf("GatewayURI = %q, want %q", got, want)
	}
}
