package model

import (
	"strings"
	"time"
)

// OrgType classifies the organization that owns an IP address.
type OrgType string

const (
	OrgTypeBusiness   OrgType = "business"
	OrgTypeISP        OrgType = "isp"
	OrgTypeHosting    OrgType = "hosting"
	OrgTypeEducation  OrgType = "education"
	OrgTypeGovernment OrgType = "government"
)

// IsBusiness reports whether visits from this organization type can be
// attributed to a company worth enriching.
func (t OrgType) IsBusiness() bool {
	switch t {
	case OrgTypeBusiness, OrgTypeEducation, OrgTypeGovernment:
		return true
	default:
		return false
	}
}

// Company is the business identity resolved from a visit's IP address.
// It is transient and only persisted as fields of a Lead.
type Company struct {
	Name    string  `json:"name"`
	Domain  string  `json:"domain"`
	City    string  `json:"city,omitempty"`
	Region  string  `json:"region,omitempty"`
	Country string  `json:"country,omitempty"`
	Type    OrgType `json:"type"`
	Source  string  `json:"source,omitempty"` // "ipinfo" or "whois"
}

// Location returns a "City, Region, Country" style hint, skipping empty parts.
func (c Company) Location() string {
	var parts []string
	for _, p := range []string{c.City, c.Region, c.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// CandidateContact is an unscored search hit for a person profile.
type CandidateContact struct {
	ProfileURL string `json:"profile_url"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet,omitempty"`
	Content    string `json:"content,omitempty"` // empty until fetched
}

// Fetched reports whether full profile content has been retrieved.
func (c CandidateContact) Fetched() bool {
	return c.Content != ""
}

// ScoredContact is a CandidateContact with parsed profile fields and scores.
type ScoredContact struct {
	CandidateContact
	Name            string     `json:"name"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	JobTitle        string     `json:"job_title"`
	Company         string     `json:"company,omitempty"`
	Headline        string     `json:"headline,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	Location        string     `json:"location,omitempty"`
	Confidence      float64    `json:"confidence_score"`
	TitleMatchScore float64    `json:"title_match_score"`
	Connections     *int       `json:"connections,omitempty"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
	Highlights      []string   `json:"highlights,omitempty"`
}
