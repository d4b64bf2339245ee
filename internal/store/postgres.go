package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/danielliuzy/cold-call-machine/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses, satisfied by
// pgxmock.PgxPoolIface in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS businesses (
	id           TEXT PRIMARY KEY,
	source_url   TEXT NOT NULL,
	name         TEXT NOT NULL,
	category     TEXT NOT NULL,
	service_area JSONB NOT NULL DEFAULT '[]',
	icp          TEXT NOT NULL DEFAULT '',
	usp          TEXT NOT NULL DEFAULT '',
	notes        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS settings (
	business_id          TEXT PRIMARY KEY REFERENCES businesses(id),
	call_window          JSONB NOT NULL,
	do_not_call_patterns JSONB NOT NULL DEFAULT '[]',
	max_concurrent_calls INTEGER NOT NULL DEFAULT 3,
	per_run_lead_cap     INTEGER NOT NULL DEFAULT 20,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
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
	lat               DOUBLE PRECISION,
	lng               DOUBLE PRECISION,
	rating            DOUBLE PRECISION,
	review_count      INTEGER,
	source_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	score             INTEGER NOT NULL DEFAULT 0,
	dedup_key         TEXT NOT NULL UNIQUE,
	status            TEXT NOT NULL DEFAULT 'new',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
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
	cost_usd          DOUBLE PRECISION NOT NULL DEFAULT 0,
	started_at        TIMESTAMPTZ,
	ended_at          TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_business_id ON leads(business_id);
CREATE INDEX IF NOT EXISTS idx_leads_business_status ON leads(business_id, status);
CREATE INDEX IF NOT EXISTS idx_leads_dedup_key ON leads(dedup_key);
CREATE INDEX IF NOT EXISTS idx_calls_lead_id ON calls(lead_id);
CREATE INDEX IF NOT EXISTS idx_calls_business_id ON calls(business_id);
CREATE INDEX IF NOT EXISTS idx_calls_provider_call_id ON calls(provider_call_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateBusiness(ctx context.Context, b model.Business) (*model.Business, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	b.CreatedAt = time.Now().UTC()

	areaJSON, err := json.Marshal(b.ServiceArea)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal service area")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO businesses (id, source_url, name, category, service_area, icp, usp, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.SourceURL, b.Name, b.Category, areaJSON, b.ICP, b.USP, b.Notes, b.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert business")
	}
	return &b, nil
}

func (s *PostgresStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	var b model.Business
	var areaJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, source_url, name, category, service_area, icp, usp, notes, created_at
		 FROM businesses WHERE id = $1`, id,
	).Scan(&b.ID, &b.SourceURL, &b.Name, &b.Category, &areaJSON, &b.ICP, &b.USP, &b.Notes, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "business %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get business %s", id)
	}
	if err := json.Unmarshal(areaJSON, &b.ServiceArea); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal service area")
	}
	return &b, nil
}

func (s *PostgresStore) PutSettings(ctx context.Context, set model.Settings) error {
	now := time.Now().UTC()
	windowJSON, err := json.Marshal(set.CallWindow)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal call window")
	}
	patternsJSON, err := json.Marshal(set.DoNotCallPatterns)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dnc patterns")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO settings (business_id, call_window, do_not_call_patterns, max_concurrent_calls, per_run_lead_cap, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (business_id) DO UPDATE SET
		   call_window = $2, do_not_call_patterns = $3,
		   max_concurrent_calls = $4, per_run_lead_cap = $5, updated_at = $7`,
		set.BusinessID, windowJSON, patternsJSON,
		set.MaxConcurrentCalls, set.PerRunLeadCap, now, now,
	)
	return eris.Wrap(err, "postgres: put settings")
}

func (s *PostgresStore) GetSettings(ctx context.Context, businessID string) (*model.Settings, error) {
	var set model.Settings
	var windowJSON, patternsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT business_id, call_window, do_not_call_patterns, max_concurrent_calls, per_run_lead_cap, created_at, updated_at
		 FROM settings WHERE business_id = $1`, businessID,
	).Scan(&set.BusinessID, &windowJSON, &patternsJSON, &set.MaxConcurrentCalls, &set.PerRunLeadCap, &set.CreatedAt, &set.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "settings %s", businessID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get settings %s", businessID)
	}
	if err := json.Unmarshal(windowJSON, &set.CallWindow); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal call window")
	}
	if err := json.Unmarshal(patternsJSON, &set.DoNotCallPatterns); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal dnc patterns")
	}
	return &set, nil
}

const pgLeadColumns = `id, business_id, ext_id, provider, name, category, website, phone, email,
	address, city, state, postal_code, lat, lng, rating, review_count,
	source_confidence, score, dedup_key, status, created_at, updated_at`

func (s *PostgresStore) UpsertLead(ctx context.Context, lead model.Lead) (*model.Lead, error) {
	now := time.Now().UTC()
	lead.ID = uuid.New().String()
	if lead.Status == "" {
		lead.Status = model.LeadStatusNew
	}
	lead.CreatedAt = now
	lead.UpdatedAt = now

	// On conflict the existing row keeps its id, status, created_at; only
	// discovery fields are refreshed.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO leads (`+pgLeadColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		 ON CONFLICT (dedup_key) DO UPDATE SET
		   business_id = $2, ext_id = $3, provider = $4, name = $5, category = $6,
		   website = $7, phone = $8, email = $9, address = $10, city = $11, state = $12,
		   postal_code = $13, lat = $14, lng = $15, rating = $16, review_count = $17,
		   source_confidence = $18, score = $19, updated_at = $23
		 RETURNING `+pgLeadColumns,
		lead.ID, lead.BusinessID, lead.ExtID, lead.Provider, lead.Name, lead.Category,
		lead.Website, lead.Phone, lead.Email, lead.Address, lead.City, lead.State, lead.PostalCode,
		lead.Lat, lead.Lng, lead.Rating, lead.ReviewCount,
		lead.SourceConfidence, lead.Score, lead.DedupKey, string(lead.Status),
		lead.CreatedAt, lead.UpdatedAt,
	)
	out, err := scanPgLead(row)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert lead")
	}
	return out, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgLeadColumns+` FROM leads WHERE id = $1`, id,
	)
	lead, err := scanPgLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return lead, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + pgLeadColumns + ` FROM leads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.BusinessID != "" {
		query += fmt.Sprintf(` AND business_id = $%d`, argIdx)
		args = append(args, filter.BusinessID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.HasPhone {
		query += ` AND phone != ''`
	}
	if filter.MinScore > 0 {
		query += fmt.Sprintf(` AND score >= $%d`, argIdx)
		args = append(args, filter.MinScore)
		argIdx++
	}
	query += ` ORDER BY score DESC, created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
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
		lead, err := scanPgLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateLeadScore(ctx context.Context, id string, score int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET score = $1, updated_at = $2 WHERE id = $3`,
		score, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead score %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateLeadContact(ctx context.Context, id, phone, email string, confidence float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET phone = COALESCE(NULLIF($1, ''), phone),
		   email = COALESCE(NULLIF($2, ''), email),
		   source_confidence = $3, updated_at = $4
		 WHERE id = $5`,
		phone, email, confidence, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead contact %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return nil
}

func (s *PostgresStore) BatchUpdateLeadStatus(ctx context.Context, businessID string, from, to model.LeadStatus, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`UPDATE leads SET status = $1, updated_at = $2
		 WHERE id IN (
		   SELECT id FROM leads WHERE business_id = $3 AND status = $4
		   ORDER BY score DESC LIMIT $5
		 )
		 RETURNING id`,
		string(to), time.Now().UTC(), businessID, string(from), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: batch update lead status")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch lead id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: batch update iterate")
}

func (s *PostgresStore) DeleteLead(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM calls WHERE lead_id = $1`, id); err != nil {
		return eris.Wrapf(err, "postgres: delete calls for lead %s", id)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete lead %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return nil
}

const pgCallColumns = `id, business_id, lead_id, provider_call_id, status, outcome,
	disposition_notes, recording_url, transcript, summary, cost_usd,
	started_at, ended_at, created_at, updated_at`

func (s *PostgresStore) CreateCall(ctx context.Context, call model.Call) (*model.Call, error) {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.Status == "" {
		call.Status = model.CallStatusQueued
	}
	now := time.Now().UTC()
	call.CreatedAt = now
	call.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO calls (`+pgCallColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		call.ID, call.BusinessID, call.LeadID, call.ProviderCallID,
		string(call.Status), string(call.Outcome), call.DispositionNotes,
		call.RecordingURL, call.Transcript, call.Summary, call.CostUSD,
		call.StartedAt, call.EndedAt, call.CreatedAt, call.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert call")
	}
	return &call, nil
}

func (s *PostgresStore) GetCall(ctx context.Context, id string) (*model.Call, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgCallColumns+` FROM calls WHERE id = $1`, id,
	)
	call, err := scanPgCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "call %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get call %s", id)
	}
	return call, nil
}

func (s *PostgresStore) GetCallByProviderID(ctx context.Context, providerCallID string) (*model.Call, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgCallColumns+` FROM calls WHERE provider_call_id = $1
		 ORDER BY created_at DESC LIMIT 1`, providerCallID,
	)
	call, err := scanPgCall(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "call for provider id %s", providerCallID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get call by provider id %s", providerCallID)
	}
	return call, nil
}

func (s *PostgresStore) UpdateCallByProviderID(ctx context.Context, providerCallID string, patch CallPatch) (*model.Call, error) {
	call, err := s.GetCallByProviderID(ctx, providerCallID)
	if err != nil {
		return nil, err
	}

	query := `UPDATE calls SET updated_at = $1`
	args := []any{time.Now().UTC()}
	argIdx := 2

	set := func(col string, val any) {
		query += fmt.Sprintf(`, %s = $%d`, col, argIdx)
		args = append(args, val)
		argIdx++
	}

	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.StartedAt != nil {
		set("started_at", time.UnixMilli(*patch.StartedAt).UTC())
	}
	if patch.EndedAt != nil {
		set("ended_at", time.UnixMilli(*patch.EndedAt).UTC())
	}
	if patch.Transcript != nil {
		set("transcript", *patch.Transcript)
	}
	if patch.RecordingURL != nil {
		set("recording_url", *patch.RecordingURL)
	}
	if patch.CostUSD != nil {
		set("cost_usd", *patch.CostUSD)
	}

	query += fmt.Sprintf(` WHERE id = $%d`, argIdx)
	args = append(args, call.ID)

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return nil, eris.Wrapf(err, "postgres: update call %s", call.ID)
	}
	return s.GetCall(ctx, call.ID)
}

func (s *PostgresStore) SetCallOutcome(ctx context.Context, callID string, outcome model.CallOutcome, summary, transcript string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE calls SET outcome = $1, summary = $2, transcript = $3, updated_at = $4
		 WHERE id = $5 AND outcome = ''`,
		string(outcome), summary, transcript, time.Now().UTC(), callID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: set call outcome %s", callID)
	}
	return tag.RowsAffected() > 0, nil
}

// scan helpers

type pgScannable interface {
	Scan(dest ...any) error
}

func scanPgLead(row pgScannable) (*model.Lead, error) {
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

func scanPgCall(row pgScannable) (*model.Call, error) {
	var c model.Call
	var status, outcome string
	err := row.Scan(
		&c.ID, &c.BusinessID, &c.LeadID, &c.ProviderCallID, &status, &outcome,
		&c.DispositionNotes, &c.RecordingURL, &c.Transcript, &c.Summary, &c.CostUSD,
		&c.StartedAt, &c.EndedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = model.CallStatus(status)
	c.Outcome = model.CallOutcome(outcome)
	return &c, nil
}
