package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat-client/internal/bootstrap"
	"docchat-client/internal/config"
	"docchat-client/internal/constant"
	"docchat-client/internal/dto"
	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/widget/controller"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Environment: "test", LogFilePath: "unused.log"},
		Widget: config.WidgetConfig{
			MaxTextSelectionLength: 2000,
			FallbackTextLength:     5000,
			SelectionDebounce:      10 * time.Millisecond,
			RequestTimeout:         5 * time.Second,
		},
		Limits: config.LimitsConfig{
			MessageLimit:     10,
			WarningThreshold: 8,
			ResetPolicy:      "session",
		},
		Storage: config.StorageConfig{Driver: "memory"},
		Server: config.ServerConfig{
			Port:               "0",
			CorsAllowedOrigins: "*",
			JwtSecret:          "test-secret",
			CredentialTTL:      time.Minute,
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := testConfig()
	container, err := bootstrap.NewServerContainer(cfg, logger.NewNopLogger(), false)
	require.NoError(t, err)
	t.Cleanup(container.Close)
	return New(cfg, container, logger.NewNopLogger())
}

func issueToken(t *testing.T, srv *Server, deviceId string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, constant.CredentialRoutePath, strings.NewReader(`{"device_id":"`+deviceId+`"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.GetApp().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body dto.CreateChatSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.ClientSecret)
	assert.True(t, body.ExpiresAt.After(time.Now()))
	return body.ClientSecret
}

func chatRequest(t *testing.T, token, accept string, sessionId uuid.UUID, message string) *http.Request {
	t.Helper()
	payload, err := json.Marshal(dto.SendChatRequest{SessionId: sessionId, Message: message})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, constant.ChatRoutePath, strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestCredentialEndpointValidatesDeviceId(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, constant.CredentialRoutePath, strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.GetApp().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	issueToken(t, srv, "device-1")
}

func TestChatRequiresCredential(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.GetApp().Test(chatRequest(t, "", "application/json", uuid.New(), "hello"), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = srv.GetApp().Test(chatRequest(t, "not-a-jwt", "application/json", uuid.New(), "hello"), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatJSONReply(t *testing.T) {
	srv := newTestServer(t)
	token := issueToken(t, srv, "device-1")
	sessionId := uuid.New()

	resp, err := srv.GetApp().Test(chatRequest(t, token, "application/json", sessionId, "gravity compensation"), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body dto.SendChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, sessionId, body.SessionId)
	assert.Contains(t, body.Content, "feed-forward torque")
	require.NotEmpty(t, body.Citations)
	require.NotNil(t, body.Citations[0].Page)
	assert.Equal(t, 12, *body.Citations[0].Page)

	// the session is now bound to device-1
	other := issueToken(t, srv, "device-2")
	resp, err = srv.GetApp().Test(chatRequest(t, other, "application/json", sessionId, "hello"), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChatStreamsEvents(t *testing.T) {
	srv := newTestServer(t)
	token := issueToken(t, srv, "device-1")

	resp, err := srv.GetApp().Test(chatRequest(t, token, "text/event-stream", uuid.New(), "PID loop"), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var chunks []dto.StreamChunk
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk dto.StreamChunk
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk))
		chunks = append(chunks, chunk)
	}
	require.NoError(t, scanner.Err())
	require.NotEmpty(t, chunks)
	assert.Equal(t, constant.StreamChunkContent, chunks[0].Type)
	assert.Equal(t, constant.StreamChunkDone, chunks[len(chunks)-1].Type)
}

func TestMigrationsListRequiresCredential(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/chatkit/migrations", nil)
	resp, err := srv.GetApp().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/api/chatkit/migrations", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, srv, "device-1"))
	resp, err = srv.GetApp().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"success":true`)
}

func TestWidgetTalksToDevServer(t *testing.T) {
	srv := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.GetApp().Listener(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	cfg := testConfig()
	cfg.Widget.ApiURL = "http://" + ln.Addr().String()
	cfg.Widget.SessionEndpoint = cfg.Widget.ApiURL + constant.CredentialRoutePath

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	widget, err := bootstrap.NewWidgetContainer(ctx, cfg, logger.NewNopLogger(), bootstrap.WidgetOptions{})
	require.NoError(t, err)
	defer widget.Close()

	ex, err := widget.Controller.AskAboutSelection(ctx, "gravity compensation")
	require.NoError(t, err)
	require.Equal(t, controller.StateSucceeded, ex.State)
	require.NotNil(t, ex.Assistant)
	assert.Contains(t, ex.Assistant.Content, "feed-forward torque")
	require.NotEmpty(t, ex.Assistant.Citations)

	session, ok := widget.Store.CurrentSession()
	require.True(t, ok)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, "gravity compensation", session.Messages[0].Content)
}
