// Package controller is the chat widget's orchestrator and the only stateful surface
// presentation code talks to.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"docchat-client/internal/entity"
	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/events"
	"docchat-client/pkg/widget/chaterr"
	"docchat-client/pkg/widget/credential"
	"docchat-client/pkg/widget/limit"
	"docchat-client/pkg/widget/selection"
	"docchat-client/pkg/widget/store"
	"docchat-client/pkg/widget/transport"
)

const logModule = "ChatWidgetController"

// AuthSignal is the read-only view of the host page's sign-in state.
type AuthSignal interface {
	IsAuthenticated() bool
}

type AuthFunc func() bool

func (f AuthFunc) IsAuthenticated() bool { return f() }

type CredentialSource interface {
	Ensure(ctx context.Context) (credential.Credential, error)
	Invalidate()
}

// Migrator receives the anonymous session when the visitor signs in.
type Migrator interface {
	Migrate(ctx context.Context, session entity.ChatSession) error
}

type Deps struct {
	Store       *store.Store
	Credentials CredentialSource
	Backend     transport.Backend
	Selection   *selection.Tracker // optional
	Counter     *limit.Counter
	Events      events.Publisher // optional
	Auth        AuthSignal       // optional, nil means never authenticated
	Migrator    Migrator         // optional
	State       StateStore       // optional, without it the count is rebuilt from the current session
	Logger      logger.ILogger
	Now         func() time.Time
}

type Status struct {
	Open             bool
	Authenticated    bool
	CurrentSessionId uuid.UUID
	InFlight         int
	Remaining        int // -1 for authenticated visitors
	LastExchange     *Exchange
	Selection        *selection.TextSelection
}

type Controller struct {
	deps Deps

	// sessionMu serializes picking a session and claiming its send slot
	sessionMu sync.Mutex

	resumeOnce sync.Once

	mu            sync.Mutex
	open          bool
	inFlight      map[uuid.UUID]context.CancelFunc
	last          *Exchange
	authenticated bool
	migrated      []uuid.UUID
}

func New(deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Auth == nil {
		deps.Auth = AuthFunc(func() bool { return false })
	}
	return &Controller{
		deps:     deps,
		inFlight: map[uuid.UUID]context.CancelFunc{},
	}
}

// Run drives the selection tracker and turns its updates into status events.
func (c *Controller) Run(ctx context.Context) error {
	tracker := c.deps.Selection
	if tracker == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tracker.Run(ctx)
	}()
	defer func() { <-done }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-tracker.Updates():
			if !u.Cleared && u.Selection.Truncated {
				c.notify(ctx, events.TypeSelectionTruncated, map[string]interface{}{
					"original_length": u.Selection.OriginalLength,
					"length":          len([]rune(u.Selection.Text)),
				})
			}
		}
	}
}

func (c *Controller) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
}

// Close hides the widget and abandons every in-flight send.
func (c *Controller) Close() {
	c.mu.Lock()
	c.open = false
	cancels := make([]context.CancelFunc, 0, len(c.inFlight))
	for _, cancel := range c.inFlight {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if len(cancels) > 0 {
		c.deps.Logger.Info(logModule, "Widget closed, in-flight sends abandoned", map[string]interface{}{"count": len(cancels)})
	}
}

// Status is a read-only snapshot; it never acts on a change of the auth signal.
func (c *Controller) Status() Status {
	c.resume(context.Background())
	auth := c.deps.Auth.IsAuthenticated()

	c.mu.Lock()
	st := Status{
		Open:             c.open,
		Authenticated:    auth,
		CurrentSessionId: c.deps.Store.CurrentSessionId(),
		InFlight:         len(c.inFlight),
		Remaining:        -1,
	}
	if c.last != nil {
		ex := c.last.clone()
		st.LastExchange = &ex
	}
	c.mu.Unlock()

	if !auth {
		st.Remaining = c.deps.Counter.Remaining()
	}
	if c.deps.Selection != nil {
		if sel, ok := c.deps.Selection.CurrentSelection(); ok {
			st.Selection = &sel
		}
	}
	return st
}

// AskAboutSelection opens the widget, drops the active selection and sends text as a
// new user message.
func (c *Controller) AskAboutSelection(ctx context.Context, text string) (Exchange, error) {
	c.Open()
	if c.deps.Selection != nil {
		c.deps.Selection.ClearSelection()
	}
	return c.SendMessage(ctx, text)
}

// AskAboutCurrentSelection asks about whatever the tracker holds. expand uses the longer
// fallback budget.
func (c *Controller) AskAboutCurrentSelection(ctx context.Context, expand bool) (Exchange, error) {
	if c.deps.Selection == nil {
		return Exchange{}, chaterr.ErrEmptyMessage
	}
	sel, ok := c.deps.Selection.CurrentSelection()
	if expand {
		sel, ok = c.deps.Selection.Expand()
	}
	if !ok {
		return Exchange{}, chaterr.ErrEmptyMessage
	}
	return c.AskAboutSelection(ctx, sel.Text)
}

// SendMessage runs one exchange to completion. Rejections (empty text, limit reached,
// another send in flight) return a zero Exchange; a failed exchange is returned together
// with its error and can be retried.
func (c *Controller) SendMessage(ctx context.Context, text string) (Exchange, error) {
	if strings.TrimSpace(text) == "" {
		return Exchange{}, chaterr.ErrEmptyMessage
	}
	auth := c.syncAuth(ctx)

	// a rejected send must not leave an empty session behind
	precheck := c.deps.Counter.CheckNewSession
	if _, ok := c.deps.Store.CurrentSession(); ok {
		precheck = c.deps.Counter.Check
	}
	if err := c.rejectOverLimit(ctx, precheck(auth)); err != nil {
		return Exchange{}, err
	}

	sessionId, sendCtx, release, err := c.claim(ctx)
	if err != nil {
		return Exchange{}, err
	}
	defer release()

	if err := c.rejectOverLimit(ctx, c.deps.Counter.Check(auth)); err != nil {
		return Exchange{}, err
	}

	ex := &Exchange{
		Id:          uuid.New(),
		SessionId:   sessionId,
		UserMessage: entity.NewUserMessage(text, c.deps.Now()),
		State:       StateComposing,
	}
	return c.run(sendCtx, ex, auth)
}

func (c *Controller) rejectOverLimit(ctx context.Context, err error) error {
	var limitErr *limit.LimitExceededError
	if errors.As(err, &limitErr) {
		c.notify(ctx, events.TypeLimitReached, map[string]interface{}{
			"limit":       limitErr.Limit,
			"used":        limitErr.Used,
			"reset_after": limitErr.ResetAfter,
		})
	}
	return err
}

// Retry re-issues the last failed exchange. A user message that already went into the
// session is not appended or counted again.
func (c *Controller) Retry(ctx context.Context) (Exchange, error) {
	c.mu.Lock()
	if c.last == nil || c.last.State != StateFailed {
		c.mu.Unlock()
		return Exchange{}, chaterr.ErrNothingToRetry
	}
	ex := c.last.clone()
	c.mu.Unlock()

	auth := c.syncAuth(ctx)
	sendCtx, release, err := c.claimSession(ctx, ex.SessionId)
	if err != nil {
		return Exchange{}, err
	}
	defer release()

	if !ex.appended {
		if err := c.deps.Counter.Check(auth); err != nil {
			return Exchange{}, err
		}
	}
	ex.Err = nil
	ex.State = StateComposing
	return c.run(sendCtx, &ex, auth)
}

func (c *Controller) run(ctx context.Context, ex *Exchange, auth bool) (Exchange, error) {
	ctx, span := otel.Tracer("docchat-client/controller").Start(ctx, "chat.exchange")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.session_id", ex.SessionId.String()),
		attribute.String("chat.exchange_id", ex.Id.String()),
		attribute.Bool("chat.authenticated", auth),
	)

	c.transition(ctx, ex, StateSending)

	cred, err := c.deps.Credentials.Ensure(ctx)
	if err != nil {
		return c.fail(ctx, ex, span, err)
	}

	if !ex.appended {
		if err := c.deps.Store.SaveMessage(ctx, ex.SessionId, ex.UserMessage); err != nil && !c.absorbStorage(ctx, err) {
			return c.fail(ctx, ex, span, err)
		}
		ex.appended = true
		c.recordUsage(ctx, auth)
	}

	c.transition(ctx, ex, StateStreaming)
	resp, err := c.deps.Backend.Send(ctx, transport.Request{
		SessionId: ex.SessionId,
		Message:   ex.UserMessage.Content,
		Secret:    cred.Secret,
	}, func(delta string) {
		c.mu.Lock()
		ex.Partial += delta
		c.last = ex
		c.mu.Unlock()
		c.notify(ctx, events.TypeExchangeUpdated, map[string]interface{}{
			"exchange_id": ex.Id.String(),
			"session_id":  ex.SessionId.String(),
			"state":       StateStreaming.String(),
			"delta":       delta,
		})
	})
	if err != nil {
		if errors.Is(err, chaterr.ErrCredentialExpired) {
			c.deps.Credentials.Invalidate()
		}
		if ctx.Err() != nil && !errors.Is(err, chaterr.ErrSendAbandoned) {
			err = fmt.Errorf("%w: %w", chaterr.ErrSendAbandoned, err)
		}
		return c.fail(ctx, ex, span, err)
	}

	assistant := entity.NewAssistantMessage(resp.Content, resp.Citations, c.deps.Now())
	// the reply is kept even if the caller went away after it arrived
	if err := c.deps.Store.SaveMessage(context.WithoutCancel(ctx), ex.SessionId, assistant); err != nil && !c.absorbStorage(ctx, err) {
		return c.fail(ctx, ex, span, err)
	}

	c.mu.Lock()
	ex.Assistant = &assistant
	ex.Partial = ""
	c.mu.Unlock()
	c.transition(ctx, ex, StateSucceeded)

	c.deps.Logger.Info(logModule, "Exchange succeeded", map[string]interface{}{
		"session_id": ex.SessionId.String(),
		"streamed":   resp.Streamed,
		"citations":  len(resp.Citations),
	})
	return ex.clone(), nil
}

func (c *Controller) fail(ctx context.Context, ex *Exchange, span trace.Span, err error) (Exchange, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	c.mu.Lock()
	ex.Err = err
	ex.Partial = ""
	ex.Assistant = nil
	c.mu.Unlock()
	c.transition(ctx, ex, StateFailed)

	c.deps.Logger.Warn(logModule, "Exchange failed", map[string]interface{}{
		"session_id": ex.SessionId.String(),
		"error":      err.Error(),
	})
	return ex.clone(), err
}

func (c *Controller) transition(ctx context.Context, ex *Exchange, state State) {
	c.mu.Lock()
	ex.State = state
	c.last = ex
	c.mu.Unlock()

	eventType := events.TypeExchangeUpdated
	data := map[string]interface{}{
		"exchange_id": ex.Id.String(),
		"session_id":  ex.SessionId.String(),
		"state":       state.String(),
	}
	if state == StateFailed {
		eventType = events.TypeExchangeFailed
		data["error"] = ex.Err.Error()
		data["retryable"] = true
	}
	c.notify(ctx, eventType, data)
}

func (c *Controller) recordUsage(ctx context.Context, auth bool) {
	notice := c.deps.Counter.Record(auth)
	if !auth {
		c.saveState(ctx)
	}
	switch notice {
	case limit.NoticeApproaching:
		c.notify(ctx, events.TypeLimitApproaching, map[string]interface{}{
			"remaining": c.deps.Counter.Remaining(),
			"limit":     c.deps.Counter.Policy().Limit,
		})
	case limit.NoticeLimitReached:
		c.notify(ctx, events.TypeLimitReached, map[string]interface{}{
			"limit": c.deps.Counter.Policy().Limit,
			"used":  c.deps.Counter.Used(),
		})
	}
}

// absorbStorage turns a quota failure into a status event; the conversation carries on
// in memory. It reports whether err was absorbed.
func (c *Controller) absorbStorage(ctx context.Context, err error) bool {
	if !errors.Is(err, chaterr.ErrStorageQuotaExceeded) {
		return false
	}
	c.notify(ctx, events.TypeStorageDegraded, map[string]interface{}{"error": err.Error()})
	return true
}

// claim picks the current session, creating one if needed, and takes its send slot.
func (c *Controller) claim(ctx context.Context) (uuid.UUID, context.Context, func(), error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	sessionId, err := c.ensureSession(ctx)
	if err != nil {
		return uuid.Nil, nil, nil, err
	}
	sendCtx, release, err := c.acquire(ctx, sessionId)
	if err != nil {
		return uuid.Nil, nil, nil, err
	}
	return sessionId, sendCtx, release, nil
}

func (c *Controller) claimSession(ctx context.Context, sessionId uuid.UUID) (context.Context, func(), error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.acquire(ctx, sessionId)
}

func (c *Controller) acquire(ctx context.Context, sessionId uuid.UUID) (context.Context, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, busy := c.inFlight[sessionId]; busy {
		c.deps.Logger.Warn(logModule, "Send rejected, another send is in flight", map[string]interface{}{"session_id": sessionId.String()})
		return nil, nil, chaterr.ErrSendRejectedConcurrent
	}
	sendCtx, cancel := context.WithCancel(ctx)
	c.inFlight[sessionId] = cancel

	release := func() {
		c.mu.Lock()
		delete(c.inFlight, sessionId)
		c.mu.Unlock()
		cancel()
	}
	return sendCtx, release, nil
}

func (c *Controller) ensureSession(ctx context.Context) (uuid.UUID, error) {
	if current, ok := c.deps.Store.CurrentSession(); ok {
		return current.Id, nil
	}
	session, err := c.deps.Store.CreateSession(ctx)
	if err != nil && !c.absorbStorage(ctx, err) {
		return uuid.Nil, err
	}
	c.deps.Counter.OnNewSession()
	c.saveState(ctx)
	c.notify(ctx, events.TypeSessionChanged, map[string]interface{}{"session_id": session.Id.String(), "created": true})
	return session.Id, nil
}

// NewSession starts a fresh conversation and applies the limit reset policy.
func (c *Controller) NewSession(ctx context.Context) (entity.ChatSession, error) {
	c.resume(ctx)
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	session, err := c.deps.Store.CreateSession(ctx)
	if err != nil && !c.absorbStorage(ctx, err) {
		return entity.ChatSession{}, err
	}
	if c.deps.Counter.OnNewSession() {
		c.deps.Logger.Info(logModule, "Message counter reset for new session", nil)
	}
	c.saveState(ctx)
	c.forgetLast()
	c.notify(ctx, events.TypeSessionChanged, map[string]interface{}{"session_id": session.Id.String(), "created": true})
	return session, nil
}

func (c *Controller) LoadSession(ctx context.Context, sessionId uuid.UUID) (entity.ChatSession, error) {
	c.resume(ctx)
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if err := c.deps.Store.LoadSession(ctx, sessionId); err != nil && !c.absorbStorage(ctx, err) {
		return entity.ChatSession{}, err
	}
	session, err := c.deps.Store.Session(sessionId)
	if err != nil {
		return entity.ChatSession{}, err
	}
	c.deps.Counter.Restore(session.UserMessageCount())
	c.saveState(ctx)
	c.forgetLast()
	c.notify(ctx, events.TypeSessionChanged, map[string]interface{}{"session_id": sessionId.String()})
	return session, nil
}

// DeleteSession removes a session, abandoning a send in flight for it.
func (c *Controller) DeleteSession(ctx context.Context, sessionId uuid.UUID) error {
	c.mu.Lock()
	cancel := c.inFlight[sessionId]
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if err := c.deps.Store.DeleteSession(ctx, sessionId); err != nil && !c.absorbStorage(ctx, err) {
		return err
	}
	c.mu.Lock()
	if c.last != nil && c.last.SessionId == sessionId {
		c.last = nil
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) ClearAll(ctx context.Context) error {
	c.Close()
	c.forgetLast()
	return c.deps.Store.ClearAllSessions(ctx)
}

func (c *Controller) Sessions() []entity.ChatSession {
	return c.deps.Store.Sessions()
}

// ExportCurrentSession returns the full history of the current session.
func (c *Controller) ExportCurrentSession() (entity.ChatSession, error) {
	session, ok := c.deps.Store.CurrentSession()
	if !ok {
		return entity.ChatSession{}, &chaterr.SessionError{Op: "export", Err: chaterr.ErrSessionNotFound}
	}
	return session, nil
}

// SyncAuth re-reads the auth signal. On the first authenticated moment the counter is
// cleared and the current session is handed to the Migrator, once per session.
func (c *Controller) SyncAuth(ctx context.Context) bool {
	return c.syncAuth(ctx)
}

func (c *Controller) syncAuth(ctx context.Context) bool {
	c.resume(ctx)
	auth := c.deps.Auth.IsAuthenticated()

	c.mu.Lock()
	changed := auth != c.authenticated
	c.authenticated = auth
	c.mu.Unlock()

	if !changed {
		return auth
	}
	if !auth {
		c.saveState(ctx)
		return auth
	}
	c.deps.Counter.OnAuthenticated()
	c.deps.Logger.Info(logModule, "Visitor authenticated, message limit lifted", nil)

	if c.deps.Migrator != nil {
		if session, ok := c.deps.Store.CurrentSession(); ok && len(session.Messages) > 0 && !c.wasMigrated(session.Id) {
			if err := c.deps.Migrator.Migrate(ctx, session); err != nil {
				c.deps.Logger.Error(logModule, "Session migration failed", map[string]interface{}{
					"session_id": session.Id.String(),
					"error":      err,
				})
			} else {
				c.markMigrated(session.Id)
			}
		}
	}
	c.saveState(ctx)
	return auth
}

func (c *Controller) wasMigrated(sessionId uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.migrated {
		if id == sessionId {
			return true
		}
	}
	return false
}

func (c *Controller) markMigrated(sessionId uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.migrated = append(c.migrated, sessionId)
	if n := len(c.migrated); n > maxMigratedSessions {
		c.migrated = append([]uuid.UUID(nil), c.migrated[n-maxMigratedSessions:]...)
	}
}

// resume loads the state saved by an earlier process before the counter is first used.
func (c *Controller) resume(ctx context.Context) {
	c.resumeOnce.Do(func() {
		current, hasCurrent := c.deps.Store.CurrentSession()

		var st PersistedState
		var found bool
		if c.deps.State != nil {
			var err error
			st, found, err = c.deps.State.LoadState(ctx)
			if err != nil {
				c.deps.Logger.Warn(logModule, "Failed to load widget state, rebuilding the count", map[string]interface{}{"error": err.Error()})
			}
		}

		if found {
			c.deps.Counter.Resume(st.Limit)
			c.mu.Lock()
			c.authenticated = st.Authenticated
			c.migrated = append([]uuid.UUID(nil), st.Migrated...)
			c.mu.Unlock()
		}
		// session-scoped counts follow the session that is current now
		if hasCurrent && (!found || st.SessionId != current.Id) {
			c.deps.Counter.Restore(current.UserMessageCount())
		}
		c.deps.Logger.Debug(logModule, "Widget state resumed", map[string]interface{}{
			"saved_state": found,
			"used":        c.deps.Counter.Used(),
		})
	})
}

func (c *Controller) saveState(ctx context.Context) {
	if c.deps.State == nil {
		return
	}
	c.mu.Lock()
	st := PersistedState{
		Authenticated: c.authenticated,
		Migrated:      append([]uuid.UUID(nil), c.migrated...),
	}
	c.mu.Unlock()
	st.Limit = c.deps.Counter.State()
	st.SessionId = c.deps.Store.CurrentSessionId()

	if err := c.deps.State.SaveState(context.WithoutCancel(ctx), st); err != nil {
		c.deps.Logger.Warn(logModule, "Failed to save widget state", map[string]interface{}{"error": err.Error()})
	}
}

func (c *Controller) forgetLast() {
	c.mu.Lock()
	c.last = nil
	c.mu.Unlock()
}

func (c *Controller) notify(ctx context.Context, eventType string, data map[string]interface{}) {
	if c.deps.Events == nil {
		return
	}
	if err := c.deps.Events.Publish(context.WithoutCancel(ctx), events.New(eventType, data)); err != nil {
		c.deps.Logger.Warn(logModule, "Failed to publish status event", map[string]interface{}{
			"type":  eventType,
			"error": err.Error(),
		})
	}
}
