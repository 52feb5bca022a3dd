package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/notetaker/backend/config"
	"github.com/notetaker/backend/internal/auth"
	"github.com/notetaker/backend/internal/bots"
)

func newPollCmd() *cobra.Command {
	var meeting string
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one poll pass and one scheduling pass, or reconcile a single meeting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var id uuid.UUID
			if meeting != "" {
				var err error
				if id, err = parseMeetingID(meeting); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if meeting != "" {
				res, err := a.Manager.ReconcileMeeting(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}
			scheduler := bots.NewScheduler(a.Manager, a.SchedulerOptions(), a.Logger)
			return printJSON(cmd.OutOrStdout(), scheduler.RunOnce(ctx))
		},
	}
	cmd.Flags().StringVar(&meeting, "meeting", "", "reconcile only this meeting id")
	return cmd
}

func newRetryTranscriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-transcript <meeting-id>",
		Short: "Request a transcript for a meeting whose recording finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMeetingID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Manager.RetryTranscript(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "transcript requested for meeting %s\n", id)
			return nil
		},
	}
}

func newRefreshTranscriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-transcript <meeting-id>",
		Short: "Fetch and store a meeting's transcript if the provider has finished it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMeetingID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.Meetings.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if m == nil {
				return bots.ErrMeetingNotFound
			}
			if m.BotID == "" {
				return bots.ErrNoBot
			}
			if m.TranscriptID == "" {
				return errors.New("meeting has no transcript id; use retry-transcript")
			}
			err = a.Manager.RefreshTranscript(ctx, m.BotID, m.TranscriptID)
			if errors.Is(err, bots.ErrTranscriptNotReady) {
				fmt.Fprintln(cmd.OutOrStdout(), "transcript not ready yet")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "transcript stored for meeting %s\n", id)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <meeting-id>",
		Short: "Show a meeting's bot fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseMeetingID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.Meetings.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if m == nil {
				return bots.ErrMeetingNotFound
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"meeting_id":     m.ID,
				"title":          m.Title,
				"start_time":     m.StartTime,
				"notetaker":      m.NotetakerEnabled,
				"bot_id":         m.BotID,
				"status":         m.BotStatus,
				"recording_id":   m.RecordingID,
				"transcript_id":  m.TranscriptID,
				"has_transcript": m.Transcript != "",
				"sentences":      len(m.TranscriptSentences),
			})
		},
	}
}

func newDLQCmd() *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "List transcript jobs in the dead-letter queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := a.Queue.DeadLetters(ctx, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jobs)
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 50, "maximum jobs to list")
	return cmd
}

// newTokenCmd signs a dashboard API token; it needs only JWT_SECRET.
func newTokenCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign an API token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tok, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours).Generate(userID, email)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	return cmd
}
