// Package selection turns raw text-selection gestures from the host page into a single
// debounced, validated TextSelection.
package selection

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/widget/chaterr"
)

const logModule = "SelectionTracker"

// Gesture is one selection change reported by the host page.
type Gesture struct {
	Text     string
	Bounds   Rect
	Viewport Rect
	// InsideWidget marks selections made within the chat widget itself.
	InsideWidget bool
}

// TextSelection is the active, validated selection. It is never persisted.
type TextSelection struct {
	Text           string `json:"text"`
	Truncated      bool   `json:"truncated"`
	OriginalLength int    `json:"originalLength"`
	Bounds         Rect   `json:"bounds"`
	Anchor         Rect   `json:"anchor"`
	Popover        Point  `json:"popover"`

	raw string
}

// Warning reports ErrSelectionTooLarge for truncated selections. It is informational.
func (s TextSelection) Warning() error {
	if s.Truncated {
		return chaterr.ErrSelectionTooLarge
	}
	return nil
}

// Update is emitted whenever the active selection changes. Cleared is set when the
// selection went away.
type Update struct {
	Selection TextSelection
	Cleared   bool
}

type Config struct {
	MaxTextSelectionLength int
	FallbackTextLength     int
	Debounce               time.Duration
	PopoverSize            Size
}

// Tracker keeps one pending gesture and one active selection. Observe only replaces the
// pending gesture; Run applies it once no newer gesture arrived for Config.Debounce.
type Tracker struct {
	cfg    Config
	logger logger.ILogger

	mu      sync.Mutex
	pending *Gesture
	current *TextSelection

	wake    chan struct{}
	updates chan Update
}

func NewTracker(cfg Config, log logger.ILogger) *Tracker {
	if cfg.FallbackTextLength < cfg.MaxTextSelectionLength {
		cfg.FallbackTextLength = cfg.MaxTextSelectionLength
	}
	if cfg.PopoverSize == (Size{}) {
		cfg.PopoverSize = Size{Width: 160, Height: 40}
	}
	return &Tracker{
		cfg:     cfg,
		logger:  log,
		wake:    make(chan struct{}, 1),
		updates: make(chan Update, 1),
	}
}

// Observe records a gesture. Gestures inside the widget are ignored.
func (t *Tracker) Observe(g Gesture) {
	if g.InsideWidget {
		return
	}
	t.mu.Lock()
	t.pending = &g
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Run drives the debounce timer until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	timer := time.NewTimer(t.cfg.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.wake:
			timer.Reset(t.cfg.Debounce)
		case <-timer.C:
			t.flush()
		}
	}
}

// Updates delivers selection changes. Only the latest undelivered update is kept.
func (t *Tracker) Updates() <-chan Update {
	return t.updates
}

func (t *Tracker) CurrentSelection() (TextSelection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return TextSelection{}, false
	}
	return *t.current, true
}

// ClearSelection drops the active selection and any gesture still waiting for the debounce.
func (t *Tracker) ClearSelection() {
	t.mu.Lock()
	hadSelection := t.current != nil
	t.pending = nil
	t.current = nil
	t.mu.Unlock()

	if hadSelection {
		t.publish(Update{Cleared: true})
	}
}

// Expand returns the active selection re-cut to the fallback length, for questions that
// need more surrounding text than the default budget allows.
func (t *Tracker) Expand() (TextSelection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return TextSelection{}, false
	}
	expanded := *t.current
	expanded.Text, expanded.Truncated = Truncate(expanded.raw, t.cfg.FallbackTextLength)
	return expanded, true
}

func (t *Tracker) flush() {
	t.mu.Lock()
	g := t.pending
	t.pending = nil
	if g == nil {
		t.mu.Unlock()
		return
	}
	sel, ok := t.build(*g)
	hadSelection := t.current != nil
	if ok {
		t.current = &sel
	} else {
		t.current = nil
	}
	t.mu.Unlock()

	switch {
	case ok:
		if sel.Truncated {
			t.logger.Debug(logModule, "Selection truncated", map[string]interface{}{
				"original_length": sel.OriginalLength,
				"max_length":      t.cfg.MaxTextSelectionLength,
			})
		}
		t.publish(Update{Selection: sel})
	case hadSelection:
		t.publish(Update{Cleared: true})
	}
}

func (t *Tracker) build(g Gesture) (TextSelection, bool) {
	raw := strings.TrimSpace(g.Text)
	if raw == "" {
		return TextSelection{}, false
	}
	text, truncated := Truncate(raw, t.cfg.MaxTextSelectionLength)
	return TextSelection{
		Text:           text,
		Truncated:      truncated,
		OriginalLength: utf8.RuneCountInString(raw),
		Bounds:         g.Bounds,
		Anchor:         g.Bounds,
		Popover:        PlacePopover(g.Bounds, t.cfg.PopoverSize, g.Viewport),
		raw:            raw,
	}, true
}

func (t *Tracker) publish(u Update) {
	select {
	case <-t.updates:
	default:
	}
	select {
	case t.updates <- u:
	default:
	}
}

// Truncate cuts text to at most max characters. max <= 0 disables the limit.
func Truncate(text string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text, false
	}
	runes := []rune(text)
	return string(runes[:max]), true
}
