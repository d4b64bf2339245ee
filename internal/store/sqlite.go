package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/danielliuzy/cold-call-machine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS businesses (
	id           TEXT PRIMARY KEY,
	source_url   TEXT NOT NULL,
	name         TEXT NOT NULL,
	category     TEXT NOT NULL,
	service_area TEXT NOT NULL,
	icp          TEXT NOT NULL DEFAULT '',
	usp          TEXT NOT NULL DEFAULT '',
	notes        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS settings (
	business_id          TEXT PRIMARY KEY REFERENCES businesses(id),
	call_window          TEXT NOT NULL,
	do_not_call_patterns TEXT NOT NULL DEFAULT '[]',
	max_concurrent_calls INTEGER NOT NULL DEFAULT 3,
	per_run_lead_cap     INTEGER NOT NULL DEFAULT 20,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY,
	business_id       TEXT NOT NULL REFERENCES businesses(id),
	ext_id            TEXT NOT NULL DEFAULT '',
	provider          TEXT NOT NULL DEFAULT '',
	name              TEXT NOT NULL,
	category          TEXT NOT NULL DEFAULT '',
	website           TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	address           TEXT NOT NULL DEFAULT '',
	city              TEXT NOT NULL DEFAULT '',
	state             TEXT NOT NULL DEFAULT '',
	postal_code       TEXT NOT NULL DEFAULT '',
	lat               REAL,
	lng               REAL,
	rating            REAL,
	review_count      INTEGER,
	source_confidence REAL NOT NULL DEFAULT 0,
	score             INTEGER NOT NULL DEFAULT 0,
	dedup_key         TEXT NOT NULL UNIQUE,
	status            TEXT NOT NULL DEFAULT 'new',
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS calls (
	id                TEXT PRIMARY KEY,
	business_id       TEXT NOT NULL REFERENCES businesses(id),
	lead_id           TEXT NOT NULL REFERENCES leads(id),
	provider_call_id  TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'queued',
	outcome           TEXT NOT NULL DEFAULT '',
	disposition_notes TEXT NOT NULL DEFAULT '',
	recording_url     TEXT NOT NULL DEFAULT '',
	transcript        TEXT NOT NULL DEFAULT '',
	summary           TEXT NOT NULL DEFAULT '',
	cost_usd          REAL NOT NULL DEFAULT 0,
	started_at        DATETIME,
	ended_at          DATETIME,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_business_id ON leads(business_id);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(business_id, status);
CREATE INDEX IF NOT EXISTS idx_calls_lead_id ON calls(lead_id);
CREATE INDEX IF NOT EXISTS idx_calls_business_id ON calls(business_id);
CREATE INDEX IF NOT EXISTS idx_calls_provider_call_id ON calls(provider_call_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateBusiness(ctx context.Context, b model.Business) (*model.Business, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.CreatedAt = time.Now().UTC()

	areaJSON, err := json.Marshal(b.ServiceArea)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal service area")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO businesses (id, source_url, name, category, service_area, icp, usp, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.SourceURL, b.Name, b.Category, string(areaJSON), b.ICP, b.USP, b.Notes, b.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert business")
	}
	return &b, nil
}

func (s *SQLiteStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	var b model.Business
	var areaJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source_url, name, category, service_area, icp, usp, notes, created_at
		 FROM businesses WHERE id = ?`, id,
	).Scan(&b.ID, &b.SourceURL, &b.Name, &b.Category, &areaJSON, &b.ICP, &b.USP, &b.Notes, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get business %s", id)
	}
	if err := json.Unmarshal([]byte(areaJSON), &b.ServiceArea); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal service area")
	}
	return &b, nil
}

func (s *SQLiteStore) PutSettings(ctx context.Context, set model.Settings) error {
	now := time.Now().UTC()
	windowJSON, err := json.Marshal(set.CallWindow)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal call window")
	}
	patternsJSON, err := json.Marshal(set.DoNotCallPatterns)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dnc patterns")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (business_id, call_window, do_not_call_patterns, max_concurrent_calls, per_run_lead_cap, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (business_id) DO UPDATE SET
		   call_window = excluded.call_window,
		   do_not_call_patterns = excluded.do_not_call_patterns,
		   max_concurrent_calls = excluded.max_concurrent_calls,
		   per_run_lead_cap = excluded.per_run_lead_cap,
		   updated_at = excluded.updated_at`,
		set.BusinessID, string(windowJSON), string(patternsJSON),
		set.MaxConcurrentCalls, set.PerRunLeadCap, now, now,
	)
	return eris.Wrap(err, "sqlite: put settings")
}

func (s *SQLiteStore) GetSettings(ctx context.Context, businessID string) (*model.Settings, error) {
	var set model.Settings
	var windowJSON, patternsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT business_id, call_window, do_not_call_patterns, max_concurrent_calls, per_run_lead_cap, created_at, updated_at
		 FROM settings WHERE business_id = ?`, businessID,
	).Scan(&set.BusinessID, &windowJSON, &patternsJSON, &set.MaxConcurrentCalls, &set.PerRunLeadCap, &set.CreatedAt, &set.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get settings %s", businessID)
	}
	if err := json.Unmarshal([]byte(windowJSON), &set.CallWindow); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal call window")
	}
	if err := json.Unmarshal([]byte(patternsJSON), &set.DoNotCallPatterns); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal dnc patterns")
	}
	return &set, nil
}

const leadColumns = `id, business_id, ext_id, provider, name, category, website, phone, email,
	address, city, state, postal_code, lat, lng, rating, review_count,
	source_confidence, score, dedup_key, status, created_at, updated_at`

func (s *SQLiteStore) UpsertLead(ctx context.Context, lead model.Lead) (*model.Lead, error) {
	now := time.Now().UTC()

	var existingID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM leads WHERE dedup_key = ?`, lead.DedupKey,
	).Scan(&existingID)
	if err != nil && err != sql.ErrNoRows {
		return nil, eris.Wrap(err, "sqlite: lookup lead by dedup key")
	}

	if existingID != "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE leads SET business_id = ?, ext_id = ?, provider = ?, name = ?, category = ?,
			   website = ?, phone = ?, email = ?, address = ?, city = ?, state = ?, postal_code = ?,
			   lat = ?, lng = ?, rating = ?, review_count = ?, source_confidence = ?, score = ?,
			   updated_at = ?
			 WHERE id = ?`,
			lead.BusinessID, lead.ExtID, lead.Provider, lead.Name, lead.Category,
			lead.Website, lead.Phone, lead.Email, lead.Address, lead.City, lead.State, lead.PostalCode,
			lead.Lat, lead.Lng, lead.Rating, lead.ReviewCount, lead.SourceConfidence, lead.Score,
			now, existingID,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: update lead")
		}
		return s.GetLead(ctx, existingID)
	}

	lead.ID = uuid.New().String()
	if lead.Status == "" {
		lead.Status = model.LeadStatusNew
	}
	lead.CreatedAt = now
	lead.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.BusinessID, lead.ExtID, lead.Provider, lead.Name, lead.Category,
		lead.Website, lead.Phone, lead.Email, lead.Address, lead.City, lead.State, lead.PostalCode,
		lead.Lat, lead.Lng, lead.Rating, lead.ReviewCount,
		lead.SourceConfidence, lead.Score, lead.DedupKey, string(lead.Status),
		lead.CreatedAt, lead.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert lead")
	}
	return &lead, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ?`, id,
	)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return lead, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if filter.BusinessID != "" {
		query += ` AND business_id = ?`
		args = append(args, filter.BusinessID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.HasPhone {
		query += ` AND phone != ''`
	}
	if filter.MinScore > 0 {
		query += ` AND score >= ?`
		args = append(args, filter.MinScore)
	}
	query += ` ORDER BY score DESC, created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

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
		lead, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead status %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) UpdateLeadScore(ctx context.Context, id string, score int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET score = ?, updated_at = ? WHERE id = ?`,
		score, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead score %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) UpdateLeadContact(ctx context.Context, id, phone, email string, confidence float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET phone = COALESCE(NULLIF(?, ''), phone),
		   email = COALESCE(NULLIF(?, ''), email),
		   source_confidence = ?, updated_at = ?
		 WHERE id = ?`,
		phone, email, confidence, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead contact %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) BatchUpdateLeadStatus(ctx context.Context, businessID string, from, to model.LeadStatus, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM leads WHERE business_id = ? AND status = ?
		 ORDER BY score DESC LIMIT ?`,
		businessID, string(from), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select batch leads")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch lead id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: batch iterate")
	}

	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE leads SET status = ?, updated_at = ? WHERE id = ?`,
			string(to), now, id,
		); err != nil {
			return ids, eris.Wrapf(err, "sqlite: batch update lead %s", id)
		}
	}
	return ids, nil
}

func (s *SQLiteStore) DeleteLead(ctx context.Context, id string) error {
	// Cascade: dependent calls first.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM calls WHERE lead_id = ?`, id); err != nil {
		return eris.Wrapf(err, "sqlite: delete calls for lead %s", id)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM leads WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete lead %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

const callColumns = `id, business_id, lead_id, provider_call_id, status, outcome,
	disposition_notes, recording_url, transcript, summary, cost_usd,
	started_at, ended_at, created_at, updated_at`

func (s *SQLiteStore) CreateCall(ctx context.Context, call model.Call) (*model.Call, error) {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.Status == "" {
		call.Status = model.CallStatusQueued
	}
	now := time.Now().UTC()
	call.CreatedAt = now
	call.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (`+callColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.BusinessID, call.LeadID, call.ProviderCallID,
		string(call.Status), string(call.Outcome), call.DispositionNotes,
		call.RecordingURL, call.Transcript, call.Summary, call.CostUSD,
		call.StartedAt, call.EndedAt, call.CreatedAt, call.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert call")
	}
	return &call, nil
}

func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*model.Call, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = ?`, id,
	)
	call, err := scanCall(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get call %s", id)
	}
	return call, nil
}

func (s *SQLiteStore) GetCallByProviderID(ctx context.Context, providerCallID string) (*model.Call, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE provider_call_id = ?
		 ORDER BY created_at DESC LIMIT 1`, providerCallID,
	)
	call, err := scanCall(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get call by provider id %s", providerCallID)
	}
	return call, nil
}

func (s *SQLiteStore) UpdateCallByProviderID(ctx context.Context, providerCallID string, patch CallPatch) (*model.Call, error) {
	call, err := s.GetCallByProviderID(ctx, providerCallID)
	if err != nil {
		return nil, err
	}

	query := `UPDATE calls SET updated_at = ?`
	args := []any{time.Now().UTC()}

	if patch.Status != nil {
		query += `, status = ?`
		args = append(args, string(*patch.Status))
	}
	if patch.StartedAt != nil {
		query += `, started_at = ?`
		args = append(args, time.UnixMilli(*patch.StartedAt).UTC())
	}
	if patch.EndedAt != nil {
		query += `, ended_at = ?`
		args = append(args, time.UnixMilli(*patch.EndedAt).UTC())
	}
	if patch.Transcript != nil {
		query += `, transcript = ?`
		args = append(args, *patch.Transcript)
	}
	if patch.RecordingURL != nil {
		query += `, recording_url = ?`
		args = append(args, *patch.RecordingURL)
	}
	if patch.CostUSD != nil {
		query += `, cost_usd = ?`
		args = append(args, *patch.CostUSD)
	}
	query += ` WHERE id = ?`
	args = append(args, call.ID)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, eris.Wrapf(err, "sqlite: update call %s", call.ID)
	}
	return s.GetCall(ctx, call.ID)
}

func (s *SQLiteStore) SetCallOutcome(ctx context.Context, callID string, outcome model.CallOutcome, summary, transcript string) (bool, error) {
	// Conditional update: only the first outcome wins.
	res, err := s.db.ExecContext(ctx,
		`UPDATE calls SET outcome = ?, summary = ?, transcript = ?, updated_at = ?
		 WHERE id = ? AND outcome = ''`,
		string(outcome), summary, transcript, time.Now().UTC(), callID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: set call outcome %s", callID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var status string
	err := row.Scan(
		&l.ID, &l.BusinessID, &l.ExtID, &l.Provider, &l.Name, &l.Category,
		&l.Website, &l.Phone, &l.Email, &l.Address, &l.City, &l.State, &l.PostalCode,
		&l.Lat, &l.Lng, &l.Rating, &l.ReviewCount,
		&l.SourceConfidence, &l.Score, &l.DedupKey, &status,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Status = model.LeadStatus(status)
	return &l, nil
}

func scanCall(row scannable) (*model.Call, error) {
	var c model.Call
	var status, outcome string
	var startedAt, endedAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.BusinessID, &c.LeadID, &c.ProviderCallID, &status, &outcome,
		&c.DispositionNotes, &c.RecordingURL, &c.Transcript, &c.Summary, &c.CostUSD,
		&startedAt, &endedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = model.CallStatus(status)
	c.Outcome = model.CallOutcome(outcome)
	if startedAt.Valid {
		t := startedAt.Time
		c.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	return &c, nil
}
