package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func TestVerifyAndSend(t *testing.T) {
	var sent Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/contacts/verify":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_ = json.NewEncoder(w).Encode(map[string]bool{"verified": body["contact"] == "ok@example.com"})
		case "/v1/messages":
			require.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
			w.WriteHeader(http.StatusAccepted)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "secret", Timeout: time.Second}, nil)
	ok, err := c.Verify(context.Background(), "ok@example.com")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.Verify(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	require.False(t, ok)

	msg := Message{IdempotencyKey: "key-1", Contact: "ok@example.com", Subject: "March", Attachments: []Attachment{{Filename: "s.pdf", Content: []byte("%PDF")}}}
	require.NoError(t, c.Send(context.Background(), msg))
	require.Equal(t, []byte("%PDF"), sent.Attachments[0].Content)
}

func TestSendTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	err := c.Send(context.Background(), Message{Contact: "x"})
	require.ErrorIs(t, err, shared.ErrExternalService)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestRejectedStatusIsExternalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mailbox full", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := NewClient(Config{BaseURL: srv.URL}, nil).Send(context.Background(), Message{Contact: "x"})
	require.ErrorIs(t, err, shared.ErrExternalService)
	require.Contains(t, err.Error(), "422")
}
