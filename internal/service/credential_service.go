package service

import (
	"context"
	"fmt"
	"time"

	"docchat-client/internal/dto"
	"docchat-client/internal/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ICredentialService issues short-lived chat credentials to widget instances.
type ICredentialService interface {
	Issue(ctx context.Context, request *dto.CreateChatSessionRequest) (*dto.CreateChatSessionResponse, error)
}

type credentialService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger logger.ILogger
}

func NewCredentialService(secret string, ttl time.Duration, log logger.ILogger) ICredentialService {
	return &credentialService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		logger: log,
	}
}

func (s *credentialService) Issue(ctx context.Context, request *dto.CreateChatSessionRequest) (*dto.CreateChatSessionResponse, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   request.DeviceId,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign credential: %w", err)
	}

	s.logger.Info("CredentialService", "Credential issued", map[string]interface{}{
		"device_id":  request.DeviceId,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	return &dto.CreateChatSessionResponse{
		ClientSecret: signed,
		ExpiresAt:    expiresAt.UTC().Truncate(time.Second),
	}, nil
}
