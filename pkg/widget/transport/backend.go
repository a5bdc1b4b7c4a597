// Package transport talks to the remote chat backend.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"docchat-client/internal/constant"
	"docchat-client/internal/dto"
	"docchat-client/internal/entity"
	"docchat-client/internal/mapper"
	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/widget/chaterr"
)

const logModule = "ChatTransport"

type Request struct {
	SessionId uuid.UUID
	Message   string
	Secret    string
}

type Response struct {
	Content   string
	Citations []entity.Citation
	Streamed  bool
}

// Backend sends one user message and returns the complete assistant reply. Streaming
// backends call onDelta for every content fragment before Send returns.
type Backend interface {
	Send(ctx context.Context, req Request, onDelta func(delta string)) (Response, error)
}

type HTTPBackend struct {
	BaseURL string
	Client  *http.Client
	logger  logger.ILogger
	mapper  *mapper.ChatMapper
}

var _ Backend = &HTTPBackend{}

func NewHTTPBackend(baseURL string, timeout time.Duration, log logger.ILogger) *HTTPBackend {
	return &HTTPBackend{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client: &http.Client{
			Timeout: timeout,
		},
		logger: log,
		mapper: mapper.NewChatMapper(),
	}
}

func (b *HTTPBackend) Send(ctx context.Context, req Request, onDelta func(delta string)) (Response, error) {
	payload, err := json.Marshal(dto.SendChatRequest{SessionId: req.SessionId, Message: req.Message})
	if err != nil {
		return Response{}, &chaterr.SendError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := b.BaseURL + constant.ChatRoutePath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return Response{}, &chaterr.SendError{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Secret)

	resp, err := b.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("%w: %w", chaterr.ErrSendAbandoned, ctx.Err())
		}
		return Response{}, &chaterr.SendError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return Response{}, &chaterr.SendError{Status: resp.StatusCode, Err: chaterr.ErrCredentialExpired}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Response{}, &chaterr.SendError{Status: resp.StatusCode, Err: fmt.Errorf("body: %s", bytes.TrimSpace(body))}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		out, err := b.readStream(ctx, resp.Body, onDelta)
		if err != nil && ctx.Err() != nil {
			return Response{}, fmt.Errorf("%w: %w", chaterr.ErrSendAbandoned, ctx.Err())
		}
		return out, err
	}
	return b.readJSON(resp.Body)
}

func (b *HTTPBackend) readJSON(body io.Reader) (Response, error) {
	var parsed dto.SendChatResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return Response{}, &chaterr.SendError{Status: http.StatusOK, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return Response{
		Content:   parsed.Content,
		Citations: b.mapper.CitationsToEntity(parsed.Citations),
	}, nil
}

// readStream consumes `data:` events until a done event. A stream that ends without one
// is a failed send.
func (b *HTTPBackend) readStream(ctx context.Context, body io.Reader, onDelta func(string)) (Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var content strings.Builder
	out := Response{Streamed: true}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var chunk dto.StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			b.logger.Warn(logModule, "Skipping malformed stream chunk", map[string]interface{}{"error": err.Error()})
			continue
		}

		switch chunk.Type {
		case constant.StreamChunkContent:
			if chunk.Content == "" {
				continue
			}
			content.WriteString(chunk.Content)
			if onDelta != nil {
				onDelta(chunk.Content)
			}
		case constant.StreamChunkCitations:
			out.Citations = append(out.Citations, b.mapper.CitationsToEntity(chunk.Citations)...)
		case constant.StreamChunkError:
			return Response{}, &chaterr.SendError{Status: http.StatusOK, Err: errors.New(chunk.Error)}
		case constant.StreamChunkDone:
			out.Content = content.String()
			return out, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, &chaterr.SendError{Status: http.StatusOK, Err: fmt.Errorf("stream error: %w", err)}
	}
	return Response{}, &chaterr.SendError{Status: http.StatusOK, Err: io.ErrUnexpectedEOF}
}
