// Package cli implements the docchat command line: an interactive terminal front-end
// for the chat widget plus session housekeeping.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"docchat-client/internal/bootstrap"
	"docchat-client/internal/config"
	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/widget/controller"
)

var (
	version = "dev"
	commit  = "unknown"
)

type rootOptions struct {
	verbose     bool
	storage     string
	storagePath string
	apiURL      string
	deviceId    string
}

// NewRootCommand builds the docchat command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "docchat",
		Short: "Chat with your documentation from the terminal",
		Long: `docchat is a terminal front-end for the documentation chat widget.

It keeps conversations in local storage, asks questions about text you select,
and talks to the chat backend configured in .env (CHAT_API_URL_LOCAL,
CHAT_API_URL_PRODUCTION or CHAT_API_URL).

Quick Start:
  docchat chat                       # Start an interactive conversation
  docchat sessions list              # List stored conversations
  docchat export --format md         # Export the current conversation`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Mirror logs to stderr")
	cmd.PersistentFlags().StringVar(&opts.storage, "storage", "", "Storage driver override (memory, file, redis)")
	cmd.PersistentFlags().StringVar(&opts.storagePath, "storage-path", "", "Directory for the file storage driver")
	cmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "Chat backend base URL override")
	cmd.PersistentFlags().StringVar(&opts.deviceId, "device-id", "", "Device id override")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	cmd.AddCommand(
		newChatCommand(opts),
		newSessionsCommand(opts),
		newExportCommand(opts),
	)
	return cmd
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if o.storage != "" {
		cfg.Storage.Driver = o.storage
	}
	if o.storagePath != "" {
		cfg.Storage.Path = o.storagePath
	}
	if o.apiURL != "" {
		cfg.Widget.ApiURL = strings.TrimRight(o.apiURL, "/")
		cfg.Widget.SessionEndpoint = cfg.Widget.ApiURL + "/api/chatkit/session"
	}
	if o.deviceId != "" {
		cfg.App.DeviceId = o.deviceId
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *rootOptions) logger(cfg *config.Config) *logger.ZapLogger {
	if o.verbose {
		return logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	}
	return logger.NewIsolatedLogger(cfg.App.LogFilePath)
}

// session is one CLI invocation's widget plus its sign-in toggle.
type session struct {
	cfg    *config.Config
	log    *logger.ZapLogger
	widget *bootstrap.WidgetContainer
	authed *atomic.Bool
}

func (o *rootOptions) open(ctx context.Context, publish bool) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	log := o.logger(cfg)

	authed := &atomic.Bool{}
	widget, err := bootstrap.NewWidgetContainer(ctx, cfg, log, bootstrap.WidgetOptions{
		Auth:              controller.AuthFunc(authed.Load),
		PublishMigrations: publish,
	})
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	return &session{cfg: cfg, log: log, widget: widget, authed: authed}, nil
}

func (s *session) Close() {
	s.widget.Close()
	_ = s.log.Sync()
}
