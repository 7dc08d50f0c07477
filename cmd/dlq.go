package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/resilience"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay failed enrichments",
}

// -- dlq list --

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List visits due for retry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		errType, _ := cmd.Flags().GetString("error-type")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: errType, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}
		total, err := st.CountDLQ(ctx)
		if err != nil {
			return eris.Wrap(err, "dlq count")
		}

		if len(entries) == 0 {
			fmt.Fprintf(os.Stderr, "No entries due (%d queued).\n", total)
			return nil
		}
		formatDLQList(os.Stdout, entries)
		fmt.Fprintf(os.Stderr, "%d due, %d queued.\n", len(entries), total)
		return nil
	},
}

// -- dlq retry --

var dlqRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run enrichment for due entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "enrich", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := env.Store.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: "transient", Limit: limit})
		if err != nil {
			return eris.Wrap(err, "dlq dequeue")
		}
		if len(entries) == 0 {
			zap.L().Info("dlq: nothing due")
			return nil
		}

		retryCfg := resilience.DefaultRetryConfig()
		retryCfg.MaxAttempts = 2
		retryCfg.OnRetry = resilience.RetryLogger("pipeline", "dlq replay")

		s := replayDLQ(ctx, env.Store, env.Events, env.Pipeline, entries, retryCfg)
		zap.L().Info("dlq retry complete",
			zap.Int("due", len(entries)),
			zap.Int("recovered", s.recovered),
			zap.Int("requeued", s.requeued),
			zap.Int("dropped", s.dropped),
		)
		return nil
	},
}

func init() {
	dlqListCmd.Flags().String("error-type", "", "filter by error type (transient, permanent)")
	dlqListCmd.Flags().Int("limit", 50, "max entries to show")
	dlqRetryCmd.Flags().Int("limit", 50, "max entries to replay")

	dlqCmd.AddCommand(dlqListCmd, dlqRetryCmd)
	rootCmd.AddCommand(dlqCmd)
}

// enricher runs one enrichment. *pipeline.Pipeline satisfies it.
type enricher interface {
	Enrich(ctx context.Context, visitID, role string) *model.EnrichmentResult
}

// dlqStore is the part of the store touched by a replay.
type dlqStore interface {
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
}

type replaySummary struct {
	recovered int
	requeued  int
	dropped   int
}

// errStillTransient marks a replayed run that failed transiently again.
var errStillTransient = eris.New("enrichment still failing")

// replayDLQ re-runs the whole pipeline for each entry. A run that ends in
// any status other than error, or in a permanent error, leaves the queue;
// a transient error bumps the retry count and pushes next_retry_at out.
func replayDLQ(ctx context.Context, st dlqStore, sink outcomeSink, p enricher, entries []resilience.DLQEntry, retryCfg resilience.RetryConfig) replaySummary {
	var s replaySummary
	retryCfg.ShouldRetry = func(err error) bool { return eris.Is(err, errStillTransient) }

	for _, entry := range entries {
		log := zap.L().With(zap.String("visit_id", entry.VisitID), zap.Int("retry_count", entry.RetryCount))

		var result *model.EnrichmentResult
		_ = resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
			result = p.Enrich(ctx, entry.VisitID, entry.Role)
			if result.Status == model.StatusError && result.ErrorType == "transient" {
				return errStillTransient
			}
			return nil
		})
		if result == nil {
			log.Warn("dlq: replay interrupted", zap.Error(ctx.Err()))
			return s
		}
		if sink != nil {
			sink.Publish(result)
		}

		switch {
		case result.Status != model.StatusError:
			if err := st.RemoveDLQ(ctx, entry.ID); err != nil {
				log.Warn("dlq: remove recovered entry", zap.Error(err))
			}
			s.recovered++
			log.Info("dlq: recovered", zap.String("status", string(result.Status)))
		case result.ErrorType != "transient" || entry.RetryCount+1 >= entry.MaxRetries:
			if err := st.RemoveDLQ(ctx, entry.ID); err != nil {
				log.Warn("dlq: remove exhausted entry", zap.Error(err))
			}
			s.dropped++
			log.Warn("dlq: giving up", zap.String("error", result.Error), zap.String("error_type", result.ErrorType))
		default:
			next := time.Now().UTC().Add(resilience.NextRetryDelay(entry.RetryCount + 1))
			if err := st.IncrementDLQRetry(ctx, entry.ID, next, result.Error); err != nil {
				log.Warn("dlq: increment retry", zap.Error(err))
			}
			s.requeued++
			log.Info("dlq: requeued", zap.Time("next_retry_at", next))
		}
	}
	return s
}

func formatDLQList(w io.Writer, entries []resilience.DLQEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVISIT\tPHASE\tTYPE\tRETRIES\tNEXT RETRY\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			shortID(e.ID), e.VisitID, e.FailedPhase, e.ErrorType,
			e.RetryCount, e.MaxRetries,
			e.NextRetryAt.Format(time.RFC3339), truncate(e.Error, 60),
		)
	}
	_ = tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
