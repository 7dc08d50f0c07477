package model

// Status is the terminal state of one enrichment run.
type Status string

const (
	StatusSkipISP   Status = "skip_isp"
	StatusNoContact Status = "no_contact"
	StatusEmailFail Status = "email_fail"
	StatusEnriched  Status = "enriched"
	StatusError     Status = "error"
)

// PersistsLead reports whether a run ending in this status writes a Lead.
func (s Status) PersistsLead() bool {
	switch s {
	case StatusNoContact, StatusEmailFail, StatusEnriched:
		return true
	default:
		return false
	}
}

// PhaseStatus represents the outcome of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusEmpty    PhaseStatus = "empty"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the audit record of a pipeline phase.
type PhaseResult struct {
	Name      string         `json:"name"`
	Status    PhaseStatus    `json:"status"`
	Duration  int64          `json:"duration_ms"`
	CostCents float64        `json:"cost_cents"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ResultContact is the contact view returned to callers.
type ResultContact struct {
	Name            string   `json:"name"`
	Title           string   `json:"title"`
	Email           string   `json:"email,omitempty"`
	ProfileURL      string   `json:"profile_url"`
	TitleMatchScore float64  `json:"title_match_score"`
	ConfidenceScore float64  `json:"confidence_score"`
	Highlights      []string `json:"highlights,omitempty"`
}

// EnrichmentResult is the structured outcome handed back to callers. It is
// always returned, never replaced by a raw error.
type EnrichmentResult struct {
	Success   bool           `json:"success"`
	Status    Status         `json:"status"`
	VisitID   string         `json:"visit_id"`
	LeadID    string         `json:"lead_id,omitempty"`
	Company   *Company       `json:"company,omitempty"`
	Contact   *ResultContact `json:"contact,omitempty"`
	Insights  *Insights      `json:"insights,omitempty"`
	CostCents int            `json:"cost_cents,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorType string         `json:"error_type,omitempty"` // "transient" or "permanent"
	Phases    []PhaseResult  `json:"phases,omitempty"`
}
