package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"docparse-backend/internal/poller"
)

var (
	pollInterval    = poller.DefaultInterval
	pollMaxAttempts = poller.DefaultMaxAttempts
)

var pollCmd = &cobra.Command{
	Use:   "poll <documentId>",
	Short: "Wait for a document to finish extraction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return pollAndReport(cmd, args[0])
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <documentId>",
	Short: "Show the current status of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := httpSource().Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		info("%s is %s", args[0], snap.Status)
		if snap.FailureReason != "" {
			warn("reason: %s", snap.FailureReason)
		}
		if snap.Content != nil {
			raw, _ := json.Marshal(snap.Content)
			printJSON(cmd.OutOrStdout(), raw)
		}
		return nil
	},
}

func init() {
	pollCmd.Flags().DurationVar(&pollInterval, "interval", poller.DefaultInterval, "time between status checks")
	pollCmd.Flags().IntVar(&pollMaxAttempts, "attempts", poller.DefaultMaxAttempts, "maximum status checks before giving up")
	rootCmd.AddCommand(pollCmd, statusCmd)
}

func httpSource() poller.HTTPSource {
	return poller.HTTPSource{BaseURL: baseURL, Client: httpClient(), Header: authHeader()}
}

func pollAndReport(cmd *cobra.Command, documentID string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	p := poller.New(httpSource())
	p.Interval = pollInterval
	p.MaxAttempts = pollMaxAttempts

	spin := newSpinner("Waiting for " + documentID)
	spin.Start()
	outcome, snap, err := p.PollSnapshot(ctx, documentID)
	spin.Stop()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			warn("stopped polling %s", documentID)
			return nil
		}
		return err
	}

	switch outcome {
	case poller.OutcomeCompleted:
		success("%s completed", documentID)
		raw, _ := json.Marshal(snap.Content)
		printJSON(cmd.OutOrStdout(), raw)
		return nil
	case poller.OutcomeFailed:
		return fmt.Errorf("%s failed: %s", documentID, snap.FailureReason)
	default:
		warn("%s still processing after %d checks; try again later", documentID, p.MaxAttempts)
		return nil
	}
}

func printJSON(w io.Writer, raw []byte) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Fprintln(w, string(raw))
		return
	}
	pretty, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(pretty))
}
