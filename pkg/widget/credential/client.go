// Package credential acquires the short-lived secret that authorizes chat requests.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/widget/chaterr"
)

const logModule = "ChatCredentialClient"

// expirySkew treats a credential as expired slightly early so it does not lapse mid-request.
const expirySkew = 5 * time.Second

type Credential struct {
	Secret    string
	IssuedAt  time.Time
	ExpiresAt time.Time // zero when the endpoint gave no expiry
}

func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt.Add(-expirySkew))
}

type sessionRequest struct {
	DeviceId string `json:"device_id"`
}

type sessionResponse struct {
	ClientSecret string     `json:"client_secret"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// Client fetches credentials from the session endpoint. At most one request is in
// flight at a time; concurrent RefreshCredential calls share its result.
type Client struct {
	endpoint   string
	deviceId   string
	httpClient *http.Client
	logger     logger.ILogger
	now        func() time.Time
	group      singleflight.Group

	mu      sync.Mutex
	current *Credential
	valid   bool
}

func NewClient(endpoint, deviceId string, log logger.ILogger, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		deviceId: deviceId,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentCredential returns the credential if it is still usable.
func (c *Client) CurrentCredential() (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || !c.valid || c.current.Expired(c.now()) {
		return Credential{}, false
	}
	return *c.current, true
}

// LastKnown returns the most recently fetched credential, valid or not.
func (c *Client) LastKnown() (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Credential{}, false
	}
	return *c.current, true
}

// Invalidate marks the current credential unusable, e.g. after the backend rejected it.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}

// Ensure returns the current credential or fetches a new one.
func (c *Client) Ensure(ctx context.Context) (Credential, error) {
	if cred, ok := c.CurrentCredential(); ok {
		return cred, nil
	}
	return c.RefreshCredential(ctx)
}

// RefreshCredential fetches a new credential, replacing the previous one. It never retries;
// on failure the previous credential stays available through LastKnown but is invalid.
func (c *Client) RefreshCredential(ctx context.Context) (Credential, error) {
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		// the fetch outlives any single waiting caller
		return c.fetch(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

func (c *Client) fetch(ctx context.Context) (Credential, error) {
	ctx, span := otel.Tracer("docchat-client/credential").Start(ctx, "credential.refresh")
	defer span.End()

	cred, err := c.request(ctx)

	c.mu.Lock()
	if err != nil {
		c.valid = false
	} else {
		c.current = &cred
		c.valid = true
	}
	c.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error(logModule, "Credential refresh failed", map[string]interface{}{"error": err})
		return Credential{}, err
	}
	span.SetAttributes(attribute.Bool("credential.has_expiry", !cred.ExpiresAt.IsZero()))
	c.logger.Info(logModule, "Credential refreshed", map[string]interface{}{"expires_at": cred.ExpiresAt})
	return cred, nil
}

func (c *Client) request(ctx context.Context) (Credential, error) {
	payload, err := json.Marshal(sessionRequest{DeviceId: c.deviceId})
	if err != nil {
		return Credential{}, &chaterr.CredentialError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return Credential{}, &chaterr.CredentialError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Credential{}, &chaterr.CredentialError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Credential{}, &chaterr.CredentialError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Credential{}, &chaterr.CredentialError{Status: resp.StatusCode, Err: fmt.Errorf("body: %s", bytes.TrimSpace(body))}
	}

	var parsed sessionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Credential{}, &chaterr.CredentialError{Status: resp.StatusCode, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if parsed.ClientSecret == "" {
		return Credential{}, &chaterr.CredentialError{Status: resp.StatusCode, Err: errors.New("response has no client_secret")}
	}

	cred := Credential{Secret: parsed.ClientSecret, IssuedAt: c.now()}
	if parsed.ExpiresAt != nil {
		cred.ExpiresAt = *parsed.ExpiresAt
	} else {
		cred.ExpiresAt = tokenExpiry(parsed.ClientSecret)
	}
	return cred, nil
}

// tokenExpiry reads the exp claim when the secret happens to be a JWT. The signature is
// not checked; the backend does that.
func tokenExpiry(secret string) time.Time {
	token, _, err := jwt.NewParser().ParseUnverified(secret, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
