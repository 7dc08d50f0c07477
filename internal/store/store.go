package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/resilience"
)

// ErrNotFound is returned (wrapped) when a visit or lead does not exist.
var ErrNotFound = eris.New("store: not found")

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	WorkspaceID  string       `json:"workspace_id,omitempty"`
	Status       model.Status `json:"status,omitempty"`
	CreatedAfter time.Time    `json:"created_after,omitempty"`
	Limit        int          `json:"limit,omitempty"`
	Offset       int          `json:"offset,omitempty"`
}

// Store defines the persistence interface for visits, enrichment outcomes
// and the dead letter queue.
//
// The Create methods assign an ID and CreatedAt to their argument when those
// are empty. Lead, Contact and MediaMention rows are written by separate
// calls, in that order, so foreign keys are always satisfied.
type Store interface {
	// Visits
	CreateVisit(ctx context.Context, v *model.Visit) error
	GetVisit(ctx context.Context, id string) (*model.Visit, error)

	// Leads
	CreateLead(ctx context.Context, l *model.Lead) error
	CreateContact(ctx context.Context, c *model.Contact) error
	CreateMediaMentions(ctx context.Context, contactID string, mentions []model.MediaMention) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	GetLeadByVisit(ctx context.Context, visitID string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func stamp(id *string, createdAt *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}
	if createdAt.IsZero() {
		*createdAt = time.Now().UTC()
	}
}

func validateContact(c *model.Contact) error {
	if c.LeadID == "" {
		return eris.New("store: contact has no lead id")
	}
	if c.EmailStatus != model.VerificationVerified {
		return eris.Errorf("store: contact email status %q is not verified", c.EmailStatus)
	}
	return nil
}
