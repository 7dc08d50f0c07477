package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visitor-cli/internal/model"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseBatchFile(t *testing.T) {
	items, err := parseBatchFile([]byte(`
role: VP Marketing
visits:
  - visit_id: v1
  - visit_id: " v2 "
    role: CTO
`))
	require.NoError(t, err)
	assert.Equal(t, []batchItem{
		{VisitID: "v1", Role: "VP Marketing"},
		{VisitID: "v2", Role: "CTO"},
	}, items)
}

func TestParseBatchFile_MissingID(t *testing.T) {
	_, err := parseBatchFile([]byte("visits:\n  - role: CTO\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "visit 1 has no visit_id")
}

func TestParseBatchFile_Malformed(t *testing.T) {
	_, err := parseBatchFile([]byte("visits: [unclosed"))
	require.Error(t, err)
}

func TestBatchItems_MergesAndDedupes(t *testing.T) {
	path := writeTempFile(t, "visits.yaml", "visits:\n  - visit_id: v1\n    role: CFO\n  - visit_id: v2\n")

	items, err := batchItems(path, []string{"v2", " v3 ", ""}, "Head of Sales")
	require.NoError(t, err)
	assert.Equal(t, []batchItem{
		{VisitID: "v1", Role: "CFO"},
		{VisitID: "v2", Role: "Head of Sales"},
		{VisitID: "v3", Role: "Head of Sales"},
	}, items)
}

func TestBatchItems_NothingGiven(t *testing.T) {
	_, err := batchItems("", nil, "")
	require.Error(t, err)
}

func TestBatchItems_MissingFile(t *testing.T) {
	_, err := batchItems(filepath.Join(t.TempDir(), "nope.yaml"), nil, "")
	require.Error(t, err)
}

func TestProcessBatch_CountsOutcomes(t *testing.T) {
	items := []batchItem{{VisitID: "ok"}, {VisitID: "isp"}, {VisitID: "boom"}, {VisitID: "ok2"}}

	var mu sync.Mutex
	var seen []string
	sum, err := processBatch(context.Background(), items, 2, func(_ context.Context, it batchItem) *model.EnrichmentResult {
		mu.Lock()
		seen = append(seen, it.VisitID)
		mu.Unlock()
		switch it.VisitID {
		case "isp":
			return &model.EnrichmentResult{Status: model.StatusSkipISP}
		case "boom":
			return &model.EnrichmentResult{Status: model.StatusError, Error: "ipinfo: 503", ErrorType: "transient"}
		default:
			return &model.EnrichmentResult{Status: model.StatusEnriched, Success: true}
		}
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), sum.Enriched)
	assert.Equal(t, int64(1), sum.NotEnriched)
	assert.Equal(t, int64(1), sum.Errors)
	assert.ElementsMatch(t, []string{"ok", "isp", "boom", "ok2"}, seen)
}

func TestProcessBatch_RespectsConcurrency(t *testing.T) {
	items := make([]batchItem, 8)
	for i := range items {
		items[i] = batchItem{VisitID: string(rune('a' + i))}
	}

	var inFlight, peak atomic.Int32
	_, err := processBatch(context.Background(), items, 3, func(_ context.Context, _ batchItem) *model.EnrichmentResult {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return &model.EnrichmentResult{Status: model.StatusNoContact}
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestProcessBatch_Empty(t *testing.T) {
	sum, err := processBatch(context.Background(), nil, 4, nil)
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestProcessBatch_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	sum, err := processBatch(ctx, []batchItem{{VisitID: "v1"}, {VisitID: "v2"}}, 1, func(context.Context, batchItem) *model.EnrichmentResult {
		calls.Add(1)
		return &model.EnrichmentResult{Status: model.StatusEnriched, Success: true}
	})
	require.NoError(t, err)
	assert.Zero(t, calls.Load())
	assert.Zero(t, sum.Enriched)
}
