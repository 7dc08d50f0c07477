package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/visitor-cli/internal/db"
	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Visits

func (s *PostgresStore) CreateVisit(ctx context.Context, v *model.Visit) error {
	stamp(&v.ID, &v.CreatedAt)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO visits (id, workspace_id, ip, page_url, referrer, utm_source, utm_medium, utm_campaign, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.WorkspaceID, v.IP, v.PageURL, v.Referrer, v.UTMSource, v.UTMMedium, v.UTMCampaign, v.UserAgent, v.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert visit")
}

func (s *PostgresStore) GetVisit(ctx context.Context, id string) (*model.Visit, error) {
	var v model.Visit
	err := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, ip, page_url, referrer, utm_source, utm_medium, utm_campaign, user_agent, created_at
		 FROM visits WHERE id = $1`,
		id,
	).Scan(&v.ID, &v.WorkspaceID, &v.IP, &v.PageURL, &v.Referrer, &v.UTMSource, &v.UTMMedium, &v.UTMCampaign, &v.UserAgent, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "visit %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get visit %s", id)
	}
	return &v, nil
}

// Leads

func (s *PostgresStore) CreateLead(ctx context.Context, l *model.Lead) error {
	stamp(&l.ID, &l.CreatedAt)
	phasesJSON, err := json.Marshal(l.Phases)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phases")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO leads (id, workspace_id, visit_id, status, company_name, company_domain, company_city,
		   company_country, company_type, ai_referred, ai_source, quality, confidence, cost_cents, phases, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		l.ID, l.WorkspaceID, l.VisitID, string(l.Status), l.CompanyName, l.CompanyDomain, l.CompanyCity,
		l.CompanyCountry, string(l.CompanyType), l.AIReferred, l.AISource, string(l.Quality), l.Confidence,
		l.CostCents, phasesJSON, l.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert lead for visit %s", l.VisitID)
}

func (s *PostgresStore) CreateContact(ctx context.Context, c *model.Contact) error {
	if err := validateContact(c); err != nil {
		return err
	}
	stamp(&c.ID, &c.CreatedAt)
	highlightsJSON, err := json.Marshal(c.Highlights)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal highlights")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO contacts (id, lead_id, name, first_name, last_name, title, headline, summary, location,
		   profile_url, email, email_pattern, email_status, confidence, title_match_score, connections,
		   last_activity, highlights, depth, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		c.ID, c.LeadID, c.Name, c.FirstName, c.LastName, c.Title, c.Headline, c.Summary, c.Location,
		c.ProfileURL, c.Email, string(c.EmailPattern), string(c.EmailStatus), c.Confidence, c.TitleMatchScore,
		c.Connections, c.LastActivity, highlightsJSON, string(c.Depth), c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert contact for lead %s", c.LeadID)
}

var mentionColumns = []string{"id", "contact_id", "type", "title", "url", "publication", "published_at", "snippet", "created_at"}

// CreateMediaMentions bulk-inserts mentions with COPY.
func (s *PostgresStore) CreateMediaMentions(ctx context.Context, contactID string, mentions []model.MediaMention) error {
	if len(mentions) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(mentions))
	for i := range mentions {
		m := &mentions[i]
		m.ContactID = contactID
		stamp(&m.ID, &m.CreatedAt)
		rows = append(rows, []any{m.ID, m.ContactID, string(m.Type), m.Title, m.URL, m.Publication, m.PublishedAt, m.Snippet, m.CreatedAt})
	}
	_, err := db.CopyFrom(ctx, s.pool, "media_mentions", mentionColumns, rows)
	return eris.Wrapf(err, "postgres: insert mentions for contact %s", contactID)
}

const leadColumns = `id, workspace_id, visit_id, status, company_name, company_domain, company_city,
	company_country, company_type, ai_referred, ai_source, quality, confidence, cost_cents, phases, created_at`

func scanPGLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	var phasesJSON []byte
	if err := row.Scan(&l.ID, &l.WorkspaceID, &l.VisitID, &l.Status, &l.CompanyName, &l.CompanyDomain,
		&l.CompanyCity, &l.CompanyCountry, &l.CompanyType, &l.AIReferred, &l.AISource, &l.Quality,
		&l.Confidence, &l.CostCents, &phasesJSON, &l.CreatedAt); err != nil {
		return nil, err
	}
	if len(phasesJSON) > 0 {
		if err := json.Unmarshal(phasesJSON, &l.Phases); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal phases")
		}
	}
	return &l, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := scanPGLead(s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	if err := s.loadContact(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *PostgresStore) GetLeadByVisit(ctx context.Context, visitID string) (*model.Lead, error) {
	l, err := scanPGLead(s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE visit_id = $1 ORDER BY created_at DESC LIMIT 1`, visitID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "lead for visit %s", visitID)
		}
		return nil, eris.Wrapf(err, "postgres: get lead for visit %s", visitID)
	}
	if err := s.loadContact(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *PostgresStore) loadContact(ctx context.Context, l *model.Lead) error {
	var c model.Contact
	var highlightsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, lead_id, name, first_name, last_name, title, headline, summary, location, profile_url,
		   email, email_pattern, email_status, confidence, title_match_score, connections, last_activity,
		   highlights, depth, created_at
		 FROM contacts WHERE lead_id = $1`,
		l.ID,
	).Scan(&c.ID, &c.LeadID, &c.Name, &c.FirstName, &c.LastName, &c.Title, &c.Headline, &c.Summary,
		&c.Location, &c.ProfileURL, &c.Email, &c.EmailPattern, &c.EmailStatus, &c.Confidence,
		&c.TitleMatchScore, &c.Connections, &c.LastActivity, &highlightsJSON, &c.Depth, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return eris.Wrapf(err, "postgres: get contact for lead %s", l.ID)
	}
	if len(highlightsJSON) > 0 {
		if err := json.Unmarshal(highlightsJSON, &c.Highlights); err != nil {
			return eris.Wrap(err, "postgres: unmarshal highlights")
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, contact_id, type, title, url, publication, published_at, snippet, created_at
		 FROM media_mentions WHERE contact_id = $1 ORDER BY created_at, id`,
		c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: list mentions for contact %s", c.ID)
	}
	defer rows.Close()
	for rows.Next() {
		var m model.MediaMention
		if err := rows.Scan(&m.ID, &m.ContactID, &m.Type, &m.Title, &m.URL, &m.Publication,
			&m.PublishedAt, &m.Snippet, &m.CreatedAt); err != nil {
			return eris.Wrap(err, "postgres: scan mention")
		}
		c.Mentions = append(c.Mentions, m)
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "postgres: iterate mentions")
	}

	l.Contact = &c
	return nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.WorkspaceID != "" {
		query += fmt.Sprintf(` AND workspace_id = $%d`, argIdx)
		args = append(args, filter.WorkspaceID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPGLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

// Dead letter queue

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastFailedAt.IsZero() {
		entry.LastFailedAt = now
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, visit_id, role, error, error_type, failed_phase, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $4, error_type = $5, failed_phase = $6, retry_count = $7,
		   next_retry_at = $9, last_failed_at = $11`,
		entry.ID, entry.VisitID, entry.Role, entry.Error, entry.ErrorType,
		entry.FailedPhase, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, visit_id, role, error, error_type, failed_phase, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += ` ORDER BY next_retry_at ASC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var failedPhase *string
		if err := rows.Scan(&e.ID, &e.VisitID, &e.Role, &e.Error, &e.ErrorType,
			&failedPhase, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if failedPhase != nil {
			e.FailedPhase = *failedPhase
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dlq entry %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}
