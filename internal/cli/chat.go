package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"docchat-client/pkg/widget/chaterr"
	"docchat-client/pkg/widget/controller"
	"docchat-client/pkg/widget/selection"
)

const replHelp = `Type a question to send it. Commands:
  /select <text>   select text on the page
  /ask             ask about the current selection
  /expand          ask about the current selection with the longer budget
  /retry           retry the last failed reply
  /new             start a new conversation
  /sessions        list conversations
  /load <id>       switch to a conversation
  /delete <id>     delete a conversation
  /clear           delete every conversation
  /login, /logout  toggle the signed-in state
  /status          show widget status
  /quit            leave`

// terminal viewport used to place the selection popover
var replViewport = selection.Rect{Width: 1280, Height: 800}

func newChatCommand(opts *rootOptions) *cobra.Command {
	var publish bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), publish)
			if err != nil {
				return err
			}
			defer s.Close()
			return runRepl(cmd.Context(), s, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&publish, "publish", false, "Hand conversations over on NATS after /login")
	return cmd
}

// lockedWriter serializes the REPL and the notice printer.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

type repl struct {
	s   *session
	out io.Writer
}

func runRepl(ctx context.Context, s *session, in io.Reader, stdout io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	out := &lockedWriter{w: stdout}
	ctrl := s.widget.Controller

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	notices, err := s.widget.Notifier.Subscribe(ctx)
	if err != nil {
		return err
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = ctrl.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		for e := range notices {
			printNotice(out, e)
		}
	}()

	ctrl.Open()
	defer ctrl.Close()

	r := &repl{s: s, out: out}
	dimColor.Fprintln(out, "docchat ready, /help for commands")
	if current, ok := s.widget.Store.CurrentSession(); ok {
		for _, m := range current.Messages {
			printMessage(out, m)
		}
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if quit := r.handle(ctx, strings.TrimSpace(scanner.Text())); quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.show(r.ctrl().SendMessage(ctx, line))
		return false
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/select":
		r.selectText(ctx, arg)
	case "/ask":
		r.showWithQuestion(r.ctrl().AskAboutCurrentSelection(ctx, false))
	case "/expand":
		r.showWithQuestion(r.ctrl().AskAboutCurrentSelection(ctx, true))
	case "/retry":
		r.show(r.ctrl().Retry(ctx))
	case "/new":
		session, err := r.ctrl().NewSession(ctx)
		if r.report(err) {
			dimColor.Fprintf(r.out, "new conversation %s\n", session.Id)
		}
	case "/sessions":
		current := r.s.widget.Store.CurrentSessionId()
		sessions := r.ctrl().Sessions()
		if len(sessions) == 0 {
			dimColor.Fprintln(r.out, "no conversations yet")
		}
		for _, s := range sessions {
			printSessionLine(r.out, s, s.Id == current)
		}
	case "/load":
		id, err := uuid.Parse(arg)
		if !r.report(err) {
			return false
		}
		session, err := r.ctrl().LoadSession(ctx, id)
		if r.report(err) {
			for _, m := range session.Messages {
				printMessage(r.out, m)
			}
		}
	case "/delete":
		id, err := uuid.Parse(arg)
		if r.report(err) && r.report(r.ctrl().DeleteSession(ctx, id)) {
			dimColor.Fprintf(r.out, "deleted %s\n", id)
		}
	case "/clear":
		if r.report(r.ctrl().ClearAll(ctx)) {
			dimColor.Fprintln(r.out, "all conversations deleted")
		}
	case "/login":
		r.s.authed.Store(true)
		r.ctrl().SyncAuth(ctx)
		dimColor.Fprintln(r.out, "signed in, no message limit")
	case "/logout":
		r.s.authed.Store(false)
		dimColor.Fprintln(r.out, "signed out")
	case "/status":
		st := r.ctrl().Status()
		remaining := "unlimited"
		if st.Remaining >= 0 {
			remaining = fmt.Sprint(st.Remaining)
		}
		fmt.Fprintf(r.out, "session %s, signed in %t, messages left %s\n", st.CurrentSessionId, st.Authenticated, remaining)
		if st.Selection != nil {
			fmt.Fprintf(r.out, "selection: %q\n", shorten(st.Selection.Text, 60))
		}
	default:
		errorColor.Fprintf(r.out, "unknown command %s, /help lists commands\n", command)
	}
	return false
}

func (r *repl) ctrl() *controller.Controller {
	return r.s.widget.Controller
}

// selectText feeds a selection gesture to the tracker and waits for the debounce.
func (r *repl) selectText(ctx context.Context, text string) {
	r.s.widget.Selection.Observe(selection.Gesture{
		Text:     text,
		Bounds:   selection.Rect{X: 40, Y: 320, Width: 400, Height: 24},
		Viewport: replViewport,
	})

	deadline := time.After(r.s.cfg.Widget.SelectionDebounce + time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			dimColor.Fprintln(r.out, "nothing selected")
			return
		case <-tick.C:
			sel, ok := r.s.widget.Selection.CurrentSelection()
			if !ok {
				if strings.TrimSpace(text) == "" {
					dimColor.Fprintln(r.out, "nothing selected")
					return
				}
				continue
			}
			if sel.Text != strings.TrimSpace(text) && !sel.Truncated {
				continue
			}
			dimColor.Fprintf(r.out, "selected %d characters, /ask to ask about them\n", len([]rune(sel.Text)))
			return
		}
	}
}

// showWithQuestion also prints the user message, for sends the user did not type.
func (r *repl) showWithQuestion(ex controller.Exchange, err error) {
	if ex.UserMessage.Content != "" {
		printMessage(r.out, ex.UserMessage)
	}
	r.show(ex, err)
}

func (r *repl) show(ex controller.Exchange, err error) {
	if err != nil {
		errorColor.Fprintf(r.out, "error: %v\n", err)
		if ex.State == controller.StateFailed {
			dimColor.Fprintln(r.out, "use /retry to try again")
		}
		if errors.Is(err, chaterr.ErrEmptyMessage) {
			dimColor.Fprintln(r.out, "nothing to send")
		}
		return
	}
	if ex.Assistant != nil {
		printMessage(r.out, *ex.Assistant)
	}
}

// report prints err and reports whether the command succeeded.
func (r *repl) report(err error) bool {
	if err == nil {
		return true
	}
	errorColor.Fprintf(r.out, "error: %v\n", err)
	return false
}
