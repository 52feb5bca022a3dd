package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notetaker/backend/config"
	"github.com/notetaker/backend/internal/app"
)

var verbose bool

// openApp connects to the configured stores. Tests replace it.
var openApp = func(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := zap.NewNop()
	if verbose {
		logger = app.NewLogger()
	}
	return app.Open(ctx, cfg, app.Options{}, logger)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "botctl",
		Short: "Operate meeting bots and transcripts",
		Long: `botctl runs bot pipeline operations against the configured database, Redis and
transcription provider: poll bot status, retry or refresh transcripts, inspect meetings
and the dead-letter queue.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(newPollCmd())
	root.AddCommand(newRetryTranscriptCmd())
	root.AddCommand(newRefreshTranscriptCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newDLQCmd())
	root.AddCommand(newTokenCmd())
	return root
}

func parseMeetingID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid meeting id %q", s)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
