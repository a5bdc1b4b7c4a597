package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat-client/internal/dto"
	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/widget/chaterr"
)

func writeEvents(w http.ResponseWriter, chunks ...dto.StreamChunk) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, c := range chunks {
		data, _ := json.Marshal(c)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func newBackend(url string) *HTTPBackend {
	return NewHTTPBackend(url, 5*time.Second, logger.NewNopLogger())
}

func TestSendStreamsDeltasAndCitations(t *testing.T) {
	sessionId := uuid.New()
	page := 12
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "Bearer secret-1", r.Header.Get("Authorization"))
		var body dto.SendChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, sessionId, body.SessionId)
		assert.Equal(t, "gravity compensation", body.Message)

		writeEvents(w,
			dto.StreamChunk{Type: "content", Content: "Gravity "},
			dto.StreamChunk{Type: "content", Content: "compensation cancels the load."},
			dto.StreamChunk{Type: "citations", Citations: []dto.CitationDTO{{Excerpt: "torque = m g l", Source: "Chapter 4", Page: &page}}},
			dto.StreamChunk{Type: "done"},
		)
	}))
	defer srv.Close()

	var deltas []string
	resp, err := newBackend(srv.URL).Send(context.Background(), Request{SessionId: sessionId, Message: "gravity compensation", Secret: "secret-1"}, func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.True(t, resp.Streamed)
	assert.Equal(t, []string{"Gravity ", "compensation cancels the load."}, deltas)
	assert.Equal(t, "Gravity compensation cancels the load.", resp.Content)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "p. 12", resp.Citations[0].Locator())
}

func TestSendAcceptsPlainJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dto.SendChatResponse{
			Content:   "A joint is a connection between links.",
			Citations: []dto.CitationDTO{{Excerpt: "joints connect links", Source: "Glossary", URL: "https://docs.example/glossary#joint"}},
		})
	}))
	defer srv.Close()

	resp, err := newBackend(srv.URL).Send(context.Background(), Request{SessionId: uuid.New(), Message: "joint?", Secret: "s"}, nil)
	require.NoError(t, err)
	assert.False(t, resp.Streamed)
	assert.Equal(t, "A joint is a connection between links.", resp.Content)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "https://docs.example/glossary#joint", resp.Citations[0].Locator())
}

func TestSendFailures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantIs     error
		wantStatus int
	}{
		{
			name: "expired credential",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			wantIs:     chaterr.ErrCredentialExpired,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantIs:     chaterr.ErrSendFailed,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "error chunk",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEvents(w, dto.StreamChunk{Type: "content", Content: "partial"}, dto.StreamChunk{Type: "error", Error: "model overloaded"})
			},
			wantIs:     chaterr.ErrSendFailed,
			wantStatus: http.StatusOK,
		},
		{
			name: "stream ends without done",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeEvents(w, dto.StreamChunk{Type: "content", Content: "partial"})
			},
			wantIs:     chaterr.ErrSendFailed,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newBackend(srv.URL).Send(context.Background(), Request{SessionId: uuid.New(), Message: "q", Secret: "s"}, nil)
			require.ErrorIs(t, err, tt.wantIs)
			var sendErr *chaterr.SendError
			require.ErrorAs(t, err, &sendErr)
			assert.Equal(t, tt.wantStatus, sendErr.Status)
		})
	}
}

func TestSendAbandonedOnCancel(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, dto.StreamChunk{Type: "content", Content: "thinking"})
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := newBackend(srv.URL).Send(ctx, Request{SessionId: uuid.New(), Message: "q", Secret: "s"}, nil)
	require.ErrorIs(t, err, chaterr.ErrSendAbandoned)
	assert.ErrorIs(t, err, context.Canceled)
}
