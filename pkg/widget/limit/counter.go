// Package limit enforces the message quota for visitors who have not signed in.
package limit

import (
	"fmt"
	"sync"
	"time"
)

type ResetPolicy string

const (
	// ResetSession resets the count whenever a new session starts.
	ResetSession ResetPolicy = "session"
	// ResetDaily resets on the first new session of a new calendar day.
	ResetDaily ResetPolicy = "daily"
	// ResetWindow resets on the first new session once Window has elapsed.
	ResetWindow ResetPolicy = "window"
	// ResetNever only resets on authentication.
	ResetNever ResetPolicy = "never"
)

func ParseResetPolicy(s string) (ResetPolicy, error) {
	switch p := ResetPolicy(s); p {
	case ResetSession, ResetDaily, ResetWindow, ResetNever:
		return p, nil
	}
	return "", fmt.Errorf("unknown limit reset policy %q", s)
}

type Policy struct {
	Limit            int
	WarningThreshold int // 0 disables the warning
	Reset            ResetPolicy
	Window           time.Duration
}

type Notice int

const (
	NoticeNone Notice = iota
	NoticeApproaching
	NoticeLimitReached
)

func (n Notice) String() string {
	switch n {
	case NoticeApproaching:
		return "approaching"
	case NoticeLimitReached:
		return "limit_reached"
	}
	return "none"
}

// LimitExceededError is returned by Check once the visitor used up the quota.
// ResetAfter is zero when only signing in lifts the block.
type LimitExceededError struct {
	Limit      int       `json:"limit"`
	Used       int       `json:"used"`
	ResetAfter time.Time `json:"reset_after"`
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("message limit reached (%d/%d), sign in to keep chatting", e.Used, e.Limit)
}

type Option func(*Counter)

func WithClock(now func() time.Time) Option {
	return func(c *Counter) {
		c.now = now
	}
}

// Counter tracks user messages sent while unauthenticated. Authenticated visitors are
// never counted or blocked.
type Counter struct {
	mu          sync.Mutex
	policy      Policy
	now         func() time.Time
	used        int
	warned      bool
	periodStart time.Time
}

func NewCounter(policy Policy, opts ...Option) *Counter {
	c := &Counter{policy: policy, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.periodStart = c.now()
	return c
}

func (c *Counter) Policy() Policy {
	return c.policy
}

// Check reports whether one more message may be sent.
func (c *Counter) Check(authenticated bool) error {
	if authenticated {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.used >= c.policy.Limit {
		return &LimitExceededError{
			Limit:      c.policy.Limit,
			Used:       c.used,
			ResetAfter: c.resetAfter(),
		}
	}
	return nil
}

// Record counts one sent message and returns the notice to show, if any. The
// approaching notice is returned once per period.
func (c *Counter) Record(authenticated bool) Notice {
	if authenticated {
		return NoticeNone
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.used++
	if c.used >= c.policy.Limit {
		c.warned = true
		return NoticeLimitReached
	}
	if c.policy.WarningThreshold > 0 && c.used >= c.policy.WarningThreshold && !c.warned {
		c.warned = true
		return NoticeApproaching
	}
	return NoticeNone
}

// Used returns the messages counted in the current period.
func (c *Counter) Used() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func (c *Counter) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r := c.policy.Limit - c.used; r > 0 {
		return r
	}
	return 0
}

// OnAuthenticated clears the count.
func (c *Counter) OnAuthenticated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// OnNewSession applies the reset policy when the visitor starts a fresh session. It
// reports whether the count was reset.
func (c *Counter) OnNewSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.resetsOnNewSessionLocked() {
		return false
	}
	c.resetLocked()
	return true
}

// CheckNewSession is Check as it would answer right after OnNewSession, without
// changing the count.
func (c *Counter) CheckNewSession(authenticated bool) error {
	if authenticated {
		return nil
	}
	c.mu.Lock()
	resets := c.resetsOnNewSessionLocked()
	c.mu.Unlock()
	if resets {
		return nil
	}
	return c.Check(false)
}

func (c *Counter) resetsOnNewSessionLocked() bool {
	switch c.policy.Reset {
	case ResetSession:
		return true
	case ResetDaily, ResetWindow:
		return !c.now().Before(c.resetAfter())
	}
	return false
}

// State is the part of the counter that has to survive a reload.
type State struct {
	Used        int       `json:"used"`
	PeriodStart time.Time `json:"period_start"`
}

func (c *Counter) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Used: c.used, PeriodStart: c.periodStart}
}

// Resume puts back a count saved by an earlier process.
func (c *Counter) Resume(st State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.used = max(st.Used, 0)
	if !st.PeriodStart.IsZero() {
		c.periodStart = st.PeriodStart
	}
	c.warned = c.policy.WarningThreshold > 0 && c.used >= c.policy.WarningThreshold
}

// Restore sets the count for a session-scoped policy when an existing session is
// reopened. Other policies keep their running count.
func (c *Counter) Restore(used int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.policy.Reset != ResetSession {
		return
	}
	c.used = used
	c.warned = c.policy.WarningThreshold > 0 && used >= c.policy.WarningThreshold
}

func (c *Counter) resetLocked() {
	c.used = 0
	c.warned = false
	c.periodStart = c.now()
}

func (c *Counter) resetAfter() time.Time {
	switch c.policy.Reset {
	case ResetDaily:
		s := c.periodStart
		return time.Date(s.Year(), s.Month(), s.Day()+1, 0, 0, 0, 0, s.Location())
	case ResetWindow:
		return c.periodStart.Add(c.policy.Window)
	case ResetSession:
		return c.now()
	}
	return time.Time{}
}
