package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied to every pooled connection through the DSN.
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// NewSQLite opens a SQLite database at the given path with WAL mode and
// foreign keys enabled.
func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		dsn += sep + "_pragma=" + p
		sep = "&"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS visits (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	ip           TEXT NOT NULL,
	page_url     TEXT NOT NULL DEFAULT '',
	referrer     TEXT NOT NULL DEFAULT '',
	utm_source   TEXT NOT NULL DEFAULT '',
	utm_medium   TEXT NOT NULL DEFAULT '',
	utm_campaign TEXT NOT NULL DEFAULT '',
	user_agent   TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS leads (
	id              TEXT PRIMARY KEY,
	workspace_id    TEXT NOT NULL,
	visit_id        TEXT NOT NULL REFERENCES visits(id),
	status          TEXT NOT NULL,
	company_name    TEXT NOT NULL DEFAULT '',
	company_domain  TEXT NOT NULL DEFAULT '',
	company_city    TEXT NOT NULL DEFAULT '',
	company_country TEXT NOT NULL DEFAULT '',
	company_type    TEXT NOT NULL DEFAULT '',
	ai_referred     INTEGER NOT NULL DEFAULT 0,
	ai_source       TEXT NOT NULL DEFAULT '',
	quality         TEXT NOT NULL,
	confidence      REAL NOT NULL DEFAULT 0,
	cost_cents      INTEGER NOT NULL DEFAULT 0,
	phases          TEXT,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_visit ON leads(visit_id, created_at);
CREATE INDEX IF NOT EXISTS idx_leads_workspace_status ON leads(workspace_id, status);

CREATE TABLE IF NOT EXISTS contacts (
	id                TEXT PRIMARY KEY,
	lead_id           TEXT NOT NULL UNIQUE REFERENCES leads(id) ON DELETE CASCADE,
	name              TEXT NOT NULL,
	first_name        TEXT NOT NULL DEFAULT '',
	last_name         TEXT NOT NULL DEFAULT '',
	title             TEXT NOT NULL DEFAULT '',
	headline          TEXT NOT NULL DEFAULT '',
	summary           TEXT NOT NULL DEFAULT '',
	location          TEXT NOT NULL DEFAULT '',
	profile_url       TEXT NOT NULL,
	email             TEXT NOT NULL,
	email_pattern     TEXT NOT NULL DEFAULT '',
	email_status      TEXT NOT NULL CHECK (email_status = 'verified'),
	confidence        REAL NOT NULL CHECK (confidence >= 0.3 AND confidence <= 1),
	title_match_score REAL NOT NULL DEFAULT 0,
	connections       INTEGER,
	last_activity     TEXT,
	highlights        TEXT,
	depth             TEXT NOT NULL DEFAULT 'basic',
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS media_mentions (
	id           TEXT PRIMARY KEY,
	contact_id   TEXT NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
	type         TEXT NOT NULL,
	title        TEXT NOT NULL,
	url          TEXT NOT NULL,
	publication  TEXT NOT NULL DEFAULT '',
	published_at TEXT,
	snippet      TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_media_mentions_contact ON media_mentions(contact_id);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	visit_id       TEXT NOT NULL REFERENCES visits(id) ON DELETE CASCADE,
	role           TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_phase   TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	last_failed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Visits

func (s *SQLiteStore) CreateVisit(ctx context.Context, v *model.Visit) error {
	stamp(&v.ID, &v.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO visits (id, workspace_id, ip, page_url, referrer, utm_source, utm_medium, utm_campaign, user_agent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.WorkspaceID, v.IP, v.PageURL, v.Referrer, v.UTMSource, v.UTMMedium, v.UTMCampaign, v.UserAgent, fmtTime(v.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert visit")
}

func (s *SQLiteStore) GetVisit(ctx context.Context, id string) (*model.Visit, error) {
	var v model.Visit
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, ip, page_url, referrer, utm_source, utm_medium, utm_campaign, user_agent, created_at
		 FROM visits WHERE id = ?`,
		id,
	).Scan(&v.ID, &v.WorkspaceID, &v.IP, &v.PageURL, &v.Referrer, &v.UTMSource, &v.UTMMedium, &v.UTMCampaign, &v.UserAgent, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "visit %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get visit %s", id)
	}
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &v, nil
}

// Leads

func (s *SQLiteStore) CreateLead(ctx context.Context, l *model.Lead) error {
	stamp(&l.ID, &l.CreatedAt)
	phasesJSON, err := json.Marshal(l.Phases)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phases")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, workspace_id, visit_id, status, company_name, company_domain, company_city,
		   company_country, company_type, ai_referred, ai_source, quality, confidence, cost_cents, phases, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.WorkspaceID, l.VisitID, string(l.Status), l.CompanyName, l.CompanyDomain, l.CompanyCity,
		l.CompanyCountry, string(l.CompanyType), l.AIReferred, l.AISource, string(l.Quality), l.Confidence,
		l.CostCents, string(phasesJSON), fmtTime(l.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert lead for visit %s", l.VisitID)
}

func (s *SQLiteStore) CreateContact(ctx context.Context, c *model.Contact) error {
	if err := validateContact(c); err != nil {
		return err
	}
	stamp(&c.ID, &c.CreatedAt)
	highlightsJSON, err := json.Marshal(c.Highlights)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal highlights")
	}

	var connections sql.NullInt64
	if c.Connections != nil {
		connections = sql.NullInt64{Int64: int64(*c.Connections), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, lead_id, name, first_name, last_name, title, headline, summary, location,
		   profile_url, email, email_pattern, email_status, confidence, title_match_score, connections,
		   last_activity, highlights, depth, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.LeadID, c.Name, c.FirstName, c.LastName, c.Title, c.Headline, c.Summary, c.Location,
		c.ProfileURL, c.Email, string(c.EmailPattern), string(c.EmailStatus), c.Confidence, c.TitleMatchScore,
		connections, fmtNullTime(c.LastActivity), string(highlightsJSON), string(c.Depth), fmtTime(c.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert contact for lead %s", c.LeadID)
}

func (s *SQLiteStore) CreateMediaMentions(ctx context.Context, contactID string, mentions []model.MediaMention) error {
	if len(mentions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin mentions tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO media_mentions (id, contact_id, type, title, url, publication, published_at, snippet, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare mention insert")
	}
	defer stmt.Close()

	for i := range mentions {
		m := &mentions[i]
		m.ContactID = contactID
		stamp(&m.ID, &m.CreatedAt)
		if _, err := stmt.ExecContext(ctx, m.ID, m.ContactID, string(m.Type), m.Title, m.URL, m.Publication,
			fmtNullTime(m.PublishedAt), m.Snippet, fmtTime(m.CreatedAt)); err != nil {
			return eris.Wrapf(err, "sqlite: insert mention for contact %s", contactID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit mentions")
}

const sqliteLeadColumns = `id, workspace_id, visit_id, status, company_name, company_domain, company_city,
	company_country, company_type, ai_referred, ai_source, quality, confidence, cost_cents, phases, created_at`

func scanSQLiteLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var phasesJSON sql.NullString
	var createdAt string
	if err := row.Scan(&l.ID, &l.WorkspaceID, &l.VisitID, &l.Status, &l.CompanyName, &l.CompanyDomain,
		&l.CompanyCity, &l.CompanyCountry, &l.CompanyType, &l.AIReferred, &l.AISource, &l.Quality,
		&l.Confidence, &l.CostCents, &phasesJSON, &createdAt); err != nil {
		return nil, err
	}
	if phasesJSON.Valid && phasesJSON.String != "" && phasesJSON.String != "null" {
		if err := json.Unmarshal([]byte(phasesJSON.String), &l.Phases); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal phases")
		}
	}
	var err error
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := scanSQLiteLead(s.db.QueryRowContext(ctx, `SELECT `+sqliteLeadColumns+` FROM leads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	if err := s.loadContact(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *SQLiteStore) GetLeadByVisit(ctx context.Context, visitID string) (*model.Lead, error) {
	l, err := scanSQLiteLead(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteLeadColumns+` FROM leads WHERE visit_id = ? ORDER BY created_at DESC LIMIT 1`, visitID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "lead for visit %s", visitID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead for visit %s", visitID)
	}
	if err := s.loadContact(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *SQLiteStore) loadContact(ctx context.Context, l *model.Lead) error {
	var c model.Contact
	var connections sql.NullInt64
	var lastActivity, highlightsJSON sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, lead_id, name, first_name, last_name, title, headline, summary, location, profile_url,
		   email, email_pattern, email_status, confidence, title_match_score, connections, last_activity,
		   highlights, depth, created_at
		 FROM contacts WHERE lead_id = ?`,
		l.ID,
	).Scan(&c.ID, &c.LeadID, &c.Name, &c.FirstName, &c.LastName, &c.Title, &c.Headline, &c.Summary,
		&c.Location, &c.ProfileURL, &c.Email, &c.EmailPattern, &c.EmailStatus, &c.Confidence,
		&c.TitleMatchScore, &connections, &lastActivity, &highlightsJSON, &c.Depth, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: get contact for lead %s", l.ID)
	}
	if connections.Valid {
		n := int(connections.Int64)
		c.Connections = &n
	}
	if c.LastActivity, err = parseNullTime(lastActivity); err != nil {
		return err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return err
	}
	if highlightsJSON.Valid && highlightsJSON.String != "" && highlightsJSON.String != "null" {
		if err := json.Unmarshal([]byte(highlightsJSON.String), &c.Highlights); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal highlights")
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contact_id, type, title, url, publication, published_at, snippet, created_at
		 FROM media_mentions WHERE contact_id = ? ORDER BY created_at, id`,
		c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: list mentions for contact %s", c.ID)
	}
	defer rows.Close()
	for rows.Next() {
		var m model.MediaMention
		var publishedAt sql.NullString
		var mCreatedAt string
		if err := rows.Scan(&m.ID, &m.ContactID, &m.Type, &m.Title, &m.URL, &m.Publication,
			&publishedAt, &m.Snippet, &mCreatedAt); err != nil {
			return eris.Wrap(err, "sqlite: scan mention")
		}
		if m.PublishedAt, err = parseNullTime(publishedAt); err != nil {
			return err
		}
		if m.CreatedAt, err = parseTime(mCreatedAt); err != nil {
			return err
		}
		c.Mentions = append(c.Mentions, m)
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "sqlite: iterate mentions")
	}

	l.Contact = &c
	return nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + sqliteLeadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if filter.WorkspaceID != "" {
		query += ` AND workspace_id = ?`
		args = append(args, filter.WorkspaceID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, fmtTime(filter.CreatedAfter))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanSQLiteLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

// Dead letter queue

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
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
	var failedPhase sql.NullString
	if entry.FailedPhase != "" {
		failedPhase = sql.NullString{String: entry.FailedPhase, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, visit_id, role, error, error_type, failed_phase, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, failed_phase = excluded.failed_phase,
		   retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at,
		   last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.VisitID, entry.Role, entry.Error, entry.ErrorType, failedPhase,
		entry.RetryCount, entry.MaxRetries, fmtTime(entry.NextRetryAt),
		fmtTime(entry.CreatedAt), fmtTime(entry.LastFailedAt),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, visit_id, role, error, error_type, failed_phase, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{fmtTime(time.Now())}

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY next_retry_at ASC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var failedPhase sql.NullString
		var nextRetryAt, createdAt, lastFailedAt string
		if err := rows.Scan(&e.ID, &e.VisitID, &e.Role, &e.Error, &e.ErrorType, &failedPhase,
			&e.RetryCount, &e.MaxRetries, &nextRetryAt, &createdAt, &lastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.FailedPhase = failedPhase.String
		if e.NextRetryAt, err = parseTime(nextRetryAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if e.LastFailedAt, err = parseTime(lastFailedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: dequeue dlq iterate")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		fmtTime(nextRetryAt), lastErr, fmtTime(time.Now()), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

// sqliteTimeLayout is fixed-width so stored values sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func fmtNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}
