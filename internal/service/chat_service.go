package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docchat-client/internal/constant"
	"docchat-client/internal/dto"
	"docchat-client/internal/mapper"
	"docchat-client/internal/pkg/logger"
	"docchat-client/internal/repository/memory"
	"docchat-client/pkg/search"
)

var ErrSessionOwnedByAnotherDevice = errors.New("chat session belongs to another device")

const citationsPerReply = 3

// IChatService answers widget questions from the page index.
type IChatService interface {
	SendChat(ctx context.Context, deviceId string, request *dto.SendChatRequest) (*dto.SendChatResponse, error)
	// StreamChat replays a prepared reply as content chunks, then citations, then done.
	StreamChat(ctx context.Context, reply *dto.SendChatResponse, emit func(dto.StreamChunk) error) error
}

type chatService struct {
	index       *search.Index
	sessionRepo *memory.SessionRepository
	mapper      *mapper.ChatMapper
	chunkDelay  time.Duration
	logger      logger.ILogger
}

// NewChatService creates the scripted responder. chunkDelay paces streamed chunks.
func NewChatService(index *search.Index, sessionRepo *memory.SessionRepository, chunkDelay time.Duration, log logger.ILogger) IChatService {
	return &chatService{
		index:       index,
		sessionRepo: sessionRepo,
		mapper:      mapper.NewChatMapper(),
		chunkDelay:  chunkDelay,
		logger:      log,
	}
}

func (cs *chatService) SendChat(ctx context.Context, deviceId string, request *dto.SendChatRequest) (*dto.SendChatResponse, error) {
	content, citations, err := cs.answer(deviceId, request)
	if err != nil {
		return nil, err
	}
	return &dto.SendChatResponse{
		SessionId: request.SessionId,
		Content:   content,
		Citations: citations,
	}, nil
}

func (cs *chatService) StreamChat(ctx context.Context, reply *dto.SendChatResponse, emit func(dto.StreamChunk) error) error {
	for _, piece := range strings.SplitAfter(reply.Content, " ") {
		if piece == "" {
			continue
		}
		if err := cs.pause(ctx); err != nil {
			return err
		}
		if err := emit(dto.StreamChunk{Type: constant.StreamChunkContent, Content: piece}); err != nil {
			return err
		}
	}

	if len(reply.Citations) > 0 {
		if err := emit(dto.StreamChunk{Type: constant.StreamChunkCitations, Citations: reply.Citations}); err != nil {
			return err
		}
	}
	return emit(dto.StreamChunk{Type: constant.StreamChunkDone})
}

func (cs *chatService) answer(deviceId string, request *dto.SendChatRequest) (string, []dto.CitationDTO, error) {
	conv, ok := cs.sessionRepo.Touch(request.SessionId, deviceId, time.Now())
	if !ok {
		cs.logger.Warn("ChatService", "Session used from a foreign device", map[string]interface{}{
			"session_id": request.SessionId.String(),
			"device_id":  deviceId,
		})
		return "", nil, ErrSessionOwnedByAnotherDevice
	}

	question := strings.TrimSpace(request.Message)
	hits := cs.index.Search(question, citationsPerReply)

	cs.logger.Info("ChatService", "Question answered", map[string]interface{}{
		"session_id": request.SessionId.String(),
		"turn":       conv.Turns,
		"hits":       len(hits),
	})

	if len(hits) == 0 {
		return fmt.Sprintf("I could not find anything about %q in the documentation.", shorten(question, 80)), nil, nil
	}

	var sb strings.Builder
	if conv.Turns > 1 {
		sb.WriteString("Following up: ")
	}
	fmt.Fprintf(&sb, "Here is what %s says about %q. %s", hits[0].Source, shorten(question, 80), hits[0].Text)

	citations := make([]dto.CitationDTO, 0, len(hits))
	for _, hit := range hits {
		citations = append(citations, cs.mapper.CitationToDTO(hit.Citation()))
	}
	return sb.String(), citations, nil
}

func (cs *chatService) pause(ctx context.Context) error {
	if cs.chunkDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(cs.chunkDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func shorten(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
