package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// LeadQuality is the enrichment-quality tier recorded on a Lead.
type LeadQuality string

const (
	QualityCompanyOnly       LeadQuality = "company_only"
	QualityContactUnverified LeadQuality = "contact_unverified"
	QualityVerified          LeadQuality = "verified"
	QualityVerifiedEnhanced  LeadQuality = "verified_enhanced"
)

// EnrichmentDepth indicates whether deep enrichment contributed to a Contact.
type EnrichmentDepth string

const (
	DepthBasic    EnrichmentDepth = "basic"
	DepthEnhanced EnrichmentDepth = "enhanced"
)

// Lead is the persisted outcome of an enrichment run for one visit.
type Lead struct {
	ID             string        `json:"id"`
	WorkspaceID    string        `json:"workspace_id"`
	VisitID        string        `json:"visit_id"`
	Status         Status        `json:"status"`
	CompanyName    string        `json:"company_name"`
	CompanyDomain  string        `json:"company_domain,omitempty"`
	CompanyCity    string        `json:"company_city,omitempty"`
	CompanyCountry string        `json:"company_country,omitempty"`
	CompanyType    OrgType       `json:"company_type,omitempty"`
	AIReferred     bool          `json:"ai_referred"`
	AISource       string        `json:"ai_source,omitempty"`
	Quality        LeadQuality   `json:"quality"`
	Confidence     float64       `json:"confidence_score"`
	CostCents      int           `json:"cost_cents"`
	Phases         []PhaseResult `json:"phases,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`

	// Contact is populated on read; writes go through the store's contact methods.
	Contact *Contact `json:"contact,omitempty"`
}

// Contact is the persisted person behind a Lead, owned exclusively by it.
type Contact struct {
	ID              string             `json:"id"`
	LeadID          string             `json:"lead_id"`
	Name            string             `json:"name"`
	FirstName       string             `json:"first_name,omitempty"`
	LastName        string             `json:"last_name,omitempty"`
	Title           string             `json:"title"`
	Headline        string             `json:"headline,omitempty"`
	Summary         string             `json:"summary,omitempty"`
	Location        string             `json:"location,omitempty"`
	ProfileURL      string             `json:"profile_url"`
	Email           string             `json:"email"`
	EmailPattern    EmailPattern       `json:"email_pattern"`
	EmailStatus     VerificationStatus `json:"email_status"`
	Confidence      float64            `json:"confidence_score"`
	TitleMatchScore float64            `json:"title_match_score"`
	Connections     *int               `json:"connections,omitempty"`
	LastActivity    *time.Time         `json:"last_activity,omitempty"`
	Highlights      []string           `json:"highlights,omitempty"`
	Depth           EnrichmentDepth    `json:"depth"`
	CreatedAt       time.Time          `json:"created_at"`

	// Mentions is populated on read.
	Mentions []MediaMention `json:"mentions,omitempty"`
}

// NewContact builds the persisted Contact for a selected person. It refuses
// any email whose verification status is not verified.
func NewContact(leadID string, sc ScoredContact, email VerifiedEmail, depth EnrichmentDepth) (*Contact, error) {
	if !email.OK() {
		return nil, eris.Errorf("model: email %s is %s, not verified", email.Address, email.Status)
	}
	return &Contact{
		LeadID:          leadID,
		Name:            sc.Name,
		FirstName:       sc.FirstName,
		LastName:        sc.LastName,
		Title:           sc.JobTitle,
		Headline:        sc.Headline,
		Summary:         sc.Summary,
		Location:        sc.Location,
		ProfileURL:      sc.ProfileURL,
		Email:           email.Address,
		EmailPattern:    email.Pattern,
		EmailStatus:     email.Status,
		Confidence:      sc.Confidence,
		TitleMatchScore: sc.TitleMatchScore,
		Connections:     sc.Connections,
		LastActivity:    sc.LastActivity,
		Highlights:      sc.Highlights,
		Depth:           depth,
	}, nil
}

// MentionType categorizes a MediaMention.
type MentionType string

const (
	MentionThoughtLeadership MentionType = "thought_leadership"
	MentionPressQuote        MentionType = "press_quote"
	MentionPatent            MentionType = "patent"
)

// MediaMention is a piece of public content attached to a Contact.
type MediaMention struct {
	ID          string      `json:"id"`
	ContactID   string      `json:"contact_id"`
	Type        MentionType `json:"type"`
	Title       string      `json:"title"`
	URL         string      `json:"url"`
	Publication string      `json:"publication,omitempty"`
	PublishedAt *time.Time  `json:"published_at,omitempty"`
	Snippet     string      `json:"snippet,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
