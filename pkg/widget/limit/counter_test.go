package limit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterNotices(t *testing.T) {
	c := NewCounter(Policy{Limit: 5, WarningThreshold: 3, Reset: ResetSession})

	var notices []Notice
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Check(false))
		notices = append(notices, c.Record(false))
	}
	assert.Equal(t, []Notice{NoticeNone, NoticeNone, NoticeApproaching, NoticeNone, NoticeLimitReached}, notices)

	err := c.Check(false)
	var limitErr *LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 5, limitErr.Limit)
	assert.Equal(t, 5, limitErr.Used)
	assert.Equal(t, 0, c.Remaining())
}

func TestAuthenticatedVisitorsAreExempt(t *testing.T) {
	c := NewCounter(Policy{Limit: 2, WarningThreshold: 1, Reset: ResetNever})
	c.Record(false)
	c.Record(false)
	require.Error(t, c.Check(false))

	assert.NoError(t, c.Check(true))
	assert.Equal(t, NoticeNone, c.Record(true))
	assert.Equal(t, 2, c.Used())

	c.OnAuthenticated()
	assert.Equal(t, 0, c.Used())
	assert.NoError(t, c.Check(false))
}

func TestResetPolicies(t *testing.T) {
	start := time.Date(2026, 4, 10, 22, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		policy      Policy
		advance     time.Duration
		wantReset   bool
		wantResetAt time.Time
	}{
		{name: "session resets immediately", policy: Policy{Limit: 1, Reset: ResetSession}, wantReset: true, wantResetAt: start},
		{name: "daily before midnight", policy: Policy{Limit: 1, Reset: ResetDaily}, advance: time.Hour, wantResetAt: time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC)},
		{name: "daily after midnight", policy: Policy{Limit: 1, Reset: ResetDaily}, advance: 3 * time.Hour, wantReset: true, wantResetAt: time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC)},
		{name: "window not elapsed", policy: Policy{Limit: 1, Reset: ResetWindow, Window: 6 * time.Hour}, advance: 5 * time.Hour, wantResetAt: start.Add(6 * time.Hour)},
		{name: "window elapsed", policy: Policy{Limit: 1, Reset: ResetWindow, Window: 6 * time.Hour}, advance: 6 * time.Hour, wantReset: true, wantResetAt: start.Add(6 * time.Hour)},
		{name: "never", policy: Policy{Limit: 1, Reset: ResetNever}, advance: 72 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := start
			c := NewCounter(tt.policy, WithClock(func() time.Time { return now }))
			c.Record(false)

			var limitErr *LimitExceededError
			require.ErrorAs(t, c.Check(false), &limitErr)
			assert.True(t, limitErr.ResetAfter.Equal(tt.wantResetAt), "reset after %v", limitErr.ResetAfter)

			now = start.Add(tt.advance)
			assert.Equal(t, tt.wantReset, c.OnNewSession())
			if tt.wantReset {
				assert.NoError(t, c.Check(false))
			} else {
				assert.Error(t, c.Check(false))
			}
		})
	}
}

func TestRestoreOnlyForSessionPolicy(t *testing.T) {
	c := NewCounter(Policy{Limit: 4, WarningThreshold: 2, Reset: ResetSession})
	c.Restore(3)
	assert.Equal(t, 3, c.Used())
	// already past the threshold, no second warning
	assert.Equal(t, NoticeLimitReached, c.Record(false))

	daily := NewCounter(Policy{Limit: 4, Reset: ResetDaily})
	daily.Record(false)
	daily.Restore(0)
	assert.Equal(t, 1, daily.Used())
}

func TestResumeCarriesCountAndPeriodAcrossCounters(t *testing.T) {
	start := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	now := start
	clock := WithClock(func() time.Time { return now })
	policy := Policy{Limit: 2, WarningThreshold: 1, Reset: ResetWindow, Window: 6 * time.Hour}

	first := NewCounter(policy, clock)
	first.Record(false)
	first.Record(false)
	saved := first.State()

	now = start.Add(time.Hour)
	second := NewCounter(policy, clock)
	second.Resume(saved)

	var limitErr *LimitExceededError
	require.ErrorAs(t, second.Check(false), &limitErr)
	assert.Equal(t, 2, limitErr.Used)
	assert.True(t, limitErr.ResetAfter.Equal(start.Add(6*time.Hour)))
	assert.False(t, second.OnNewSession())

	now = start.Add(7 * time.Hour)
	assert.True(t, second.OnNewSession())
	assert.NoError(t, second.Check(false))
}

func TestCheckNewSessionDoesNotReset(t *testing.T) {
	session := NewCounter(Policy{Limit: 1, Reset: ResetSession})
	session.Record(false)
	assert.NoError(t, session.CheckNewSession(false))
	assert.Equal(t, 1, session.Used())

	never := NewCounter(Policy{Limit: 1, Reset: ResetNever})
	never.Record(false)
	var limitErr *LimitExceededError
	assert.ErrorAs(t, never.CheckNewSession(false), &limitErr)
	assert.NoError(t, never.CheckNewSession(true))
}

func TestParseResetPolicy(t *testing.T) {
	p, err := ParseResetPolicy("window")
	require.NoError(t, err)
	assert.Equal(t, ResetWindow, p)

	_, err = ParseResetPolicy("weekly")
	assert.Error(t, err)
}
