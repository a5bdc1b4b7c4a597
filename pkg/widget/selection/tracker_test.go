package selection

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/widget/chaterr"
)

var viewport = Rect{X: 0, Y: 0, Width: 1280, Height: 800}

func startTracker(t *testing.T, cfg Config) *Tracker {
	t.Helper()
	tr := NewTracker(cfg, logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = tr.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return tr
}

func waitUpdate(t *testing.T, tr *Tracker) Update {
	t.Helper()
	select {
	case u := <-tr.Updates():
		return u
	case <-time.After(time.Second):
		t.Fatal("no selection update")
		return Update{}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		max           int
		wantText      string
		wantTruncated bool
	}{
		{name: "shorter than max", text: "gravity compensation", max: 2000, wantText: "gravity compensation"},
		{name: "exactly max", text: "abcde", max: 5, wantText: "abcde"},
		{name: "longer than max", text: "abcdefgh", max: 5, wantText: "abcde", wantTruncated: true},
		{name: "counts characters not bytes", text: "ñandú über", max: 5, wantText: "ñandú", wantTruncated: true},
		{name: "no limit", text: "abc", max: 0, wantText: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := Truncate(tt.text, tt.max)
			assert.Equal(t, tt.wantText, got)
			assert.Equal(t, tt.wantTruncated, truncated)
		})
	}
}

func TestTrackerDebouncesRapidGestures(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	tr := startTracker(t, Config{MaxTextSelectionLength: 2000, Debounce: 30 * time.Millisecond})
	for _, text := range []string{"g", "gra", "gravity", "gravity comp", "gravity compensation"} {
		tr.Observe(Gesture{Text: text, Bounds: Rect{X: 100, Y: 300, Width: 120, Height: 18}, Viewport: viewport})
		time.Sleep(2 * time.Millisecond)
	}

	u := waitUpdate(t, tr)
	assert.False(t, u.Cleared)
	assert.Equal(t, "gravity compensation", u.Selection.Text)
	assert.False(t, u.Selection.Truncated)
	assert.NoError(t, u.Selection.Warning())

	select {
	case extra := <-tr.Updates():
		t.Fatalf("unexpected second update: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}

	sel, ok := tr.CurrentSelection()
	require.True(t, ok)
	assert.Equal(t, "gravity compensation", sel.Text)
}

func TestTrackerTruncatesAndExpands(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	tr := startTracker(t, Config{MaxTextSelectionLength: 10, FallbackTextLength: 20, Debounce: time.Millisecond})
	long := strings.Repeat("x", 25)
	tr.Observe(Gesture{Text: long, Viewport: viewport})

	u := waitUpdate(t, tr)
	assert.Equal(t, strings.Repeat("x", 10), u.Selection.Text)
	assert.True(t, u.Selection.Truncated)
	assert.Equal(t, 25, u.Selection.OriginalLength)
	assert.ErrorIs(t, u.Selection.Warning(), chaterr.ErrSelectionTooLarge)

	expanded, ok := tr.Expand()
	require.True(t, ok)
	assert.Equal(t, strings.Repeat("x", 20), expanded.Text)
	assert.True(t, expanded.Truncated)
}

func TestTrackerTreatsWhitespaceAsNoSelection(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	tr := startTracker(t, Config{MaxTextSelectionLength: 100, Debounce: time.Millisecond})
	tr.Observe(Gesture{Text: "kinematics", Viewport: viewport})
	waitUpdate(t, tr)

	tr.Observe(Gesture{Text: "  \n\t ", Viewport: viewport})
	u := waitUpdate(t, tr)
	assert.True(t, u.Cleared)
	_, ok := tr.CurrentSelection()
	assert.False(t, ok)
}

func TestTrackerIgnoresWidgetSelections(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	tr := startTracker(t, Config{MaxTextSelectionLength: 100, Debounce: time.Millisecond})
	tr.Observe(Gesture{Text: "my own chat message", InsideWidget: true, Viewport: viewport})

	select {
	case u := <-tr.Updates():
		t.Fatalf("unexpected update: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
	_, ok := tr.CurrentSelection()
	assert.False(t, ok)
}

func TestClearSelectionDropsPendingGesture(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	tr := startTracker(t, Config{MaxTextSelectionLength: 100, Debounce: 40 * time.Millisecond})
	tr.Observe(Gesture{Text: "inverse dynamics", Viewport: viewport})
	tr.ClearSelection()

	select {
	case u := <-tr.Updates():
		t.Fatalf("unexpected update: %+v", u)
	case <-time.After(100 * time.Millisecond):
	}
	_, ok := tr.CurrentSelection()
	assert.False(t, ok)
}

func TestPlacePopover(t *testing.T) {
	size := Size{Width: 160, Height: 40}

	t.Run("above the selection", func(t *testing.T) {
		p := PlacePopover(Rect{X: 500, Y: 400, Width: 100, Height: 20}, size, viewport)
		assert.Equal(t, Point{X: 470, Y: 352}, p)
	})

	t.Run("flips below near the top edge", func(t *testing.T) {
		p := PlacePopover(Rect{X: 500, Y: 10, Width: 100, Height: 20}, size, viewport)
		assert.Equal(t, Point{X: 470, Y: 38}, p)
	})

	t.Run("clamped into the viewport", func(t *testing.T) {
		p := PlacePopover(Rect{X: 1250, Y: 790, Width: 60, Height: 30}, size, viewport)
		assert.Equal(t, Point{X: 1120, Y: 742}, p)

		p = PlacePopover(Rect{X: -40, Y: 400, Width: 20, Height: 20}, size, viewport)
		assert.Equal(t, 0.0, p.X)
	})

	t.Run("viewport smaller than popover", func(t *testing.T) {
		p := ClampPoint(Point{X: 50, Y: 50}, size, Rect{Width: 100, Height: 20})
		assert.Equal(t, Point{X: 0, Y: 0}, p)
	})
}
