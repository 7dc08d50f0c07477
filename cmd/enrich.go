package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/resilience"
)

var (
	enrichVisitID string
	enrichRole    string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich a single visit into a lead",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "enrich", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		result := enrichVisit(ctx, env, enrichVisitID, enrichRole)

		zap.L().Info("enrichment complete",
			zap.String("visit_id", result.VisitID),
			zap.String("status", string(result.Status)),
			zap.String("lead_id", result.LeadID),
			zap.Int("cost_cents", result.CostCents),
		)

		return writeJSON(os.Stdout, result)
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichVisitID, "visit-id", "", "visit to enrich (required)")
	enrichCmd.Flags().StringVar(&enrichRole, "role", "", "target role (default from config)")
	_ = enrichCmd.MarkFlagRequired("visit-id")
	rootCmd.AddCommand(enrichCmd)
}

// outcomeSink receives every enrichment result.
type outcomeSink interface {
	Publish(r *model.EnrichmentResult)
}

// dlqWriter is the part of the store used to dead-letter failed runs.
type dlqWriter interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}

// enrichVisit runs the pipeline and hands the result to the outcome sinks.
func enrichVisit(ctx context.Context, env *pipelineEnv, visitID, role string) *model.EnrichmentResult {
	result := env.Pipeline.Enrich(ctx, visitID, role)
	handleOutcome(ctx, env.Store, env.Events, result, role)
	return result
}

// handleOutcome publishes the result and dead-letters transient failures.
// Neither step can change the result.
func handleOutcome(ctx context.Context, dlq dlqWriter, sink outcomeSink, result *model.EnrichmentResult, role string) {
	if sink != nil {
		sink.Publish(result)
	}
	if cfg == nil || !cfg.DLQ.Enabled || dlq == nil {
		return
	}
	entry, ok := dlqEntryFor(result, role, cfg.DLQ.MaxRetries, time.Now().UTC())
	if !ok {
		return
	}
	if err := dlq.EnqueueDLQ(ctx, entry); err != nil {
		zap.L().Warn("dlq: enqueue failed",
			zap.String("visit_id", result.VisitID),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("dlq: visit queued for retry",
		zap.String("visit_id", result.VisitID),
		zap.Time("next_retry_at", entry.NextRetryAt),
	)
}

// dlqEntryFor builds a dead-letter entry for runs that ended in a transient
// error. Other outcomes are final.
func dlqEntryFor(result *model.EnrichmentResult, role string, maxRetries int, now time.Time) (resilience.DLQEntry, bool) {
	if result == nil || result.Status != model.StatusError || result.ErrorType != "transient" {
		return resilience.DLQEntry{}, false
	}
	return resilience.DLQEntry{
		VisitID:      result.VisitID,
		Role:         role,
		Error:        result.Error,
		ErrorType:    result.ErrorType,
		FailedPhase:  failedPhase(result.Phases),
		MaxRetries:   maxRetries,
		NextRetryAt:  now.Add(resilience.NextRetryDelay(0)),
		CreatedAt:    now,
		LastFailedAt: now,
	}, true
}

func failedPhase(phases []model.PhaseResult) string {
	for i := len(phases) - 1; i >= 0; i-- {
		if phases[i].Status == model.PhaseStatusFailed {
			return phases[i].Name
		}
	}
	return ""
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode output")
	}
	return nil
}
