package model

import "time"

// Visit is an anonymous website visit recorded by the tracking snippet.
// Visits are immutable inputs to the enrichment pipeline.
type Visit struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	IP          string    `json:"ip"`
	PageURL     string    `json:"page_url"`
	Referrer    string    `json:"referrer,omitempty"`
	UTMSource   string    `json:"utm_source,omitempty"`
	UTMMedium   string    `json:"utm_medium,omitempty"`
	UTMCampaign string    `json:"utm_campaign,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
