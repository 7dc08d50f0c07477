package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/panjf2000/ants/v2"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/visitor-cli/internal/model"
)

var (
	batchFile        string
	batchVisitIDs    []string
	batchRole        string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Enrich many visits concurrently",
	Long:  "Enriches the visits listed in a YAML file (--file) or on the command line (--visit-ids). Transient failures are queued in the dead letter queue.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		items, err := batchItems(batchFile, batchVisitIDs, batchRole)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "enrich", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentVisits
		}

		sum, err := processBatch(ctx, items, concurrency, func(ctx context.Context, it batchItem) *model.EnrichmentResult {
			return enrichVisit(ctx, env, it.VisitID, it.Role)
		})
		if err != nil {
			return err
		}

		zap.L().Info("batch complete",
			zap.Int("visits", len(items)),
			zap.Int64("enriched", sum.Enriched),
			zap.Int64("not_enriched", sum.NotEnriched),
			zap.Int64("errors", sum.Errors),
		)
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "YAML file listing visits")
	batchCmd.Flags().StringSliceVar(&batchVisitIDs, "visit-ids", nil, "comma-separated visit IDs")
	batchCmd.Flags().StringVar(&batchRole, "role", "", "target role for visits without one")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "visits enriched in parallel (default from config)")
	rootCmd.AddCommand(batchCmd)
}

// batchItem is one visit to enrich.
type batchItem struct {
	VisitID string `yaml:"visit_id"`
	Role    string `yaml:"role"`
}

// batchDoc is the layout of a --file document.
type batchDoc struct {
	Role   string      `yaml:"role"`
	Visits []batchItem `yaml:"visits"`
}

// batchItems collects the visits to enrich from the file and the flag.
// Items without a role take the file's role, then the --role flag.
func batchItems(path string, ids []string, role string) ([]batchItem, error) {
	var items []batchItem
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "batch: read file")
		}
		fileItems, err := parseBatchFile(data)
		if err != nil {
			return nil, err
		}
		items = append(items, fileItems...)
	}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			items = append(items, batchItem{VisitID: id})
		}
	}
	if len(items) == 0 {
		return nil, eris.New("batch: no visits given (use --file or --visit-ids)")
	}

	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		if seen[it.VisitID] {
			continue
		}
		seen[it.VisitID] = true
		if it.Role == "" {
			it.Role = role
		}
		out = append(out, it)
	}
	return out, nil
}

func parseBatchFile(data []byte) ([]batchItem, error) {
	var bf batchDoc
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, eris.Wrap(err, "batch: parse file")
	}
	items := make([]batchItem, 0, len(bf.Visits))
	for i, v := range bf.Visits {
		v.VisitID = strings.TrimSpace(v.VisitID)
		if v.VisitID == "" {
			return nil, eris.Errorf("batch: visit %d has no visit_id", i+1)
		}
		if v.Role == "" {
			v.Role = bf.Role
		}
		items = append(items, v)
	}
	return items, nil
}

// batchSummary counts outcomes of a batch.
type batchSummary struct {
	Enriched    int64
	NotEnriched int64
	Errors      int64
}

type batchRunFunc func(ctx context.Context, it batchItem) *model.EnrichmentResult

// processBatch enriches items on a bounded ants pool. Individual failures
// never abort the batch; cancelling ctx stops submitting new work.
func processBatch(ctx context.Context, items []batchItem, concurrency int, run batchRunFunc) (batchSummary, error) {
	var sum batchSummary
	if len(items) == 0 {
		zap.L().Info("no visits to process")
		return sum, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	pool, err := ants.NewPool(concurrency,
		ants.WithPanicHandler(func(p any) {
			zap.L().Error("batch: worker panic", zap.Any("panic", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return sum, eris.Wrap(err, "batch: create worker pool")
	}
	defer pool.Release()

	zap.L().Info("processing batch",
		zap.Int("visits", len(items)),
		zap.Int("concurrency", concurrency),
	)

	var enriched, notEnriched, failed atomic.Int64
	var wg sync.WaitGroup

	for _, it := range items {
		if ctx.Err() != nil {
			zap.L().Warn("batch interrupted", zap.Error(ctx.Err()))
			break
		}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			log := zap.L().With(zap.String("visit_id", it.VisitID))

			result := run(ctx, it)
			switch {
			case result == nil || result.Status == model.StatusError:
				failed.Add(1)
				if result != nil {
					log.Error("enrichment failed",
						zap.String("error", result.Error),
						zap.String("error_type", result.ErrorType),
					)
				}
			case result.Success:
				enriched.Add(1)
				log.Info("enrichment complete",
					zap.String("lead_id", result.LeadID),
					zap.Int("cost_cents", result.CostCents),
				)
			default:
				notEnriched.Add(1)
				log.Info("enrichment finished without contact",
					zap.String("status", string(result.Status)),
					zap.String("reason", result.Error),
				)
			}
		})
		if err != nil {
			wg.Done()
			failed.Add(1)
			zap.L().Error("batch: submit failed", zap.String("visit_id", it.VisitID), zap.Error(err))
		}
	}

	wg.Wait()

	sum.Enriched = enriched.Load()
	sum.NotEnriched = notEnriched.Load()
	sum.Errors = failed.Load()
	return sum, nil
}
