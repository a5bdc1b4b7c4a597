package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"docchat-client/internal/entity"
	"docchat-client/pkg/widget/export"
)

type exportOptions struct {
	format    string
	outputDir string
	sessionId string
	all       bool
	publish   bool
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	eo := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export conversations to file",
		Long: `Export conversations to various formats (json, jsonl, md, yaml).

By default the current conversation is written to stdout. Use --session to pick
another one, --all to export every conversation, and --out to write files.
--publish also hands the exported conversations over on NATS (NATS_URL).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := export.NewExporter(eo.format)
			if err != nil {
				return err
			}

			s, err := opts.open(cmd.Context(), eo.publish)
			if err != nil {
				return err
			}
			defer s.Close()

			sessions, err := eo.pick(s)
			if err != nil {
				return err
			}

			for _, session := range sessions {
				if err := eo.write(cmd.OutOrStdout(), exporter, session); err != nil {
					return err
				}
			}

			if eo.publish {
				if s.widget.NatsPublisher == nil {
					return fmt.Errorf("NATS is not reachable at %s", s.cfg.App.NatsURL)
				}
				migrator := export.NewMigrator(s.widget.NatsPublisher, s.widget.DeviceId, s.log)
				for _, session := range sessions {
					if err := migrator.Migrate(cmd.Context(), session); err != nil {
						return fmt.Errorf("publish session %s: %w", session.Id, err)
					}
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "published %d conversation(s)\n", len(sessions))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&eo.format, "format", "f", "json", "Export format (json, jsonl, md, yaml)")
	cmd.Flags().StringVarP(&eo.outputDir, "out", "o", "", "Output directory (default stdout)")
	cmd.Flags().StringVar(&eo.sessionId, "session", "", "Conversation id (default current)")
	cmd.Flags().BoolVar(&eo.all, "all", false, "Export every conversation")
	cmd.Flags().BoolVar(&eo.publish, "publish", false, "Publish the exported conversations on NATS")
	return cmd
}

func (eo *exportOptions) pick(s *session) ([]entity.ChatSession, error) {
	store := s.widget.Store
	switch {
	case eo.all:
		sessions := store.Sessions()
		if len(sessions) == 0 {
			return nil, fmt.Errorf("no conversations to export")
		}
		return sessions, nil
	case eo.sessionId != "":
		id, err := uuid.Parse(eo.sessionId)
		if err != nil {
			return nil, fmt.Errorf("invalid session id %q: %w", eo.sessionId, err)
		}
		session, err := store.Session(id)
		if err != nil {
			return nil, err
		}
		return []entity.ChatSession{session}, nil
	}

	session, err := s.widget.Controller.ExportCurrentSession()
	if err != nil {
		return nil, err
	}
	return []entity.ChatSession{session}, nil
}

func (eo *exportOptions) write(stdout io.Writer, exporter export.Exporter, session entity.ChatSession) error {
	if eo.outputDir == "" {
		return exporter.Export(session, stdout)
	}

	if err := os.MkdirAll(eo.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(eo.outputDir, session.Id.String()+"."+exporter.Extension())
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := exporter.Export(session, f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
