package resilience

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DLQEntry is a visit whose enrichment ended in an error and may be
// replayed later.
type DLQEntry struct {
	ID           string    `json:"id"`
	VisitID      string    `json:"visit_id"`
	Role         string    `json:"role,omitempty"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"`
	FailedPhase  string    `json:"failed_phase,omitempty"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

const (
	dlqBaseDelay = time.Minute
	dlqMaxDelay  = time.Hour
)

// NextRetryDelay returns the wait before replay number retryCount+1:
// one minute doubling per prior retry, capped at one hour.
func NextRetryDelay(retryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = dlqBaseDelay
	b.MaxInterval = dlqMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < retryCount; i++ {
		d = b.NextBackOff()
	}
	return d
}
