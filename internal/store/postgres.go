package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/agencyscope/agencydir/internal/crawler"
)

// pgxPool is the subset of pgxpool.Pool the store uses, narrowed so tests can
// substitute a mock pool.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements crawler.Store on a pgx connection pool for
// deployments where several consumers read the directory while one crawl
// writes it. Every write is a single statement, so Postgres row-level
// atomicity gives the same no-partial-row guarantee the SQLite store gets
// from per-operation transactions.
type PostgresStore struct {
	pool pgxPool
}

// NewPostgres connects a pool, pings it, and applies the schema.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse dsn")
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// newPostgresWithPool is the test seam.
func newPostgresWithPool(pool pgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS categories (
	id            BIGSERIAL PRIMARY KEY,
	category_name TEXT NOT NULL UNIQUE,
	category_link TEXT NOT NULL DEFAULT '',
	agency_count  INTEGER NOT NULL DEFAULT 0,
	scraped       BOOLEAN NOT NULL DEFAULT FALSE,
	last_page     INTEGER NOT NULL DEFAULT 0,
	last_updated  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS agencies (
	id               BIGSERIAL PRIMARY KEY,
	category_id      BIGINT NOT NULL REFERENCES categories(id),
	category_name    TEXT NOT NULL,
	agency_name      TEXT NOT NULL,
	site_url         TEXT NOT NULL DEFAULT '',
	logo_url         TEXT NOT NULL DEFAULT '',
	local_logo_path  TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	idx              TEXT NOT NULL DEFAULT '',
	detail_url       TEXT NOT NULL DEFAULT '',
	detail_desc      TEXT NOT NULL DEFAULT '',
	detailed_scraped BOOLEAN NOT NULL DEFAULT FALSE,
	last_updated     TIMESTAMPTZ NOT NULL,
	UNIQUE (category_id, agency_name)
);

CREATE TABLE IF NOT EXISTS scraping_status (
	id                 TEXT PRIMARY KEY,
	started_at         TIMESTAMPTZ NOT NULL,
	ended_at           TIMESTAMPTZ,
	categories_total   INTEGER NOT NULL DEFAULT 0,
	categories_scraped INTEGER NOT NULL DEFAULT 0,
	agencies_total     INTEGER NOT NULL DEFAULT 0,
	agencies_scraped   INTEGER NOT NULL DEFAULT 0,
	details_total      INTEGER NOT NULL DEFAULT 0,
	details_scraped    INTEGER NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'running'
);

CREATE INDEX IF NOT EXISTS idx_agencies_category_id ON agencies(category_id);
CREATE INDEX IF NOT EXISTS idx_agencies_detailed_scraped ON agencies(detailed_scraped);
CREATE INDEX IF NOT EXISTS idx_scraping_status_status ON scraping_status(status);
`

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertCategory(ctx context.Context, name, link string, agencyCount int) (int64, error) {
	// scraped and last_page survive the conflict update as resume state.
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO categories (category_name, category_link, agency_count, last_updated)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (category_name) DO UPDATE
		 SET category_link = EXCLUDED.category_link,
		     agency_count = EXCLUDED.agency_count,
		     last_updated = EXCLUDED.last_updated
		 RETURNING id`,
		name, link, agencyCount, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert category %s", name)
	}
	return id, nil
}

func (s *PostgresStore) UpsertAgency(ctx context.Context, a crawler.Agency) (int64, error) {
	// detail_desc and detailed_scraped are never listed in the conflict
	// update; an empty incoming logo path keeps the stored one.
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO agencies (category_id, category_name, agency_name, site_url, logo_url,
		 local_logo_path, description, idx, detail_url, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (category_id, agency_name) DO UPDATE
		 SET category_name = EXCLUDED.category_name,
		     site_url = EXCLUDED.site_url,
		     logo_url = EXCLUDED.logo_url,
		     local_logo_path = CASE WHEN EXCLUDED.local_logo_path <> ''
		         THEN EXCLUDED.local_logo_path ELSE agencies.local_logo_path END,
		     description = EXCLUDED.description,
		     idx = EXCLUDED.idx,
		     detail_url = EXCLUDED.detail_url,
		     last_updated = EXCLUDED.last_updated
		 RETURNING id`,
		a.CategoryID, a.CategoryName, a.Name, a.SiteURL, a.LogoURL,
		a.LocalLogoPath, a.Description, a.Idx, a.DetailURL, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert agency %s", a.Name)
	}
	return id, nil
}

func (s *PostgresStore) RecordAgencyDetail(ctx context.Context, agencyID int64, detailDesc string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agencies SET detail_desc = $1, detailed_scraped = TRUE, last_updated = $2 WHERE id = $3`,
		detailDesc, time.Now().UTC(), agencyID)
	if err != nil {
		return eris.Wrapf(err, "postgres: record detail %d", agencyID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(crawler.ErrNotFound, "agency %d", agencyID)
	}
	return nil
}

func (s *PostgresStore) MarkCategoryScraped(ctx context.Context, categoryID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE categories SET scraped = TRUE, last_updated = $1 WHERE id = $2`,
		time.Now().UTC(), categoryID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark category scraped %d", categoryID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(crawler.ErrNotFound, "category %d", categoryID)
	}
	return nil
}

func (s *PostgresStore) SetCategoryLastPage(ctx context.Context, categoryID int64, page int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE categories SET last_page = $1, last_updated = $2 WHERE id = $3`,
		page, time.Now().UTC(), categoryID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set last page %d", categoryID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(crawler.ErrNotFound, "category %d", categoryID)
	}
	return nil
}

const pgAgencyColumns = `id, category_id, category_name, agency_name, site_url, logo_url,
	local_logo_path, description, idx, detail_url, detail_desc, detailed_scraped, last_updated`

func (s *PostgresStore) AgenciesMissingDetail(ctx context.Context) ([]crawler.Agency, error) {
	return s.queryAgencies(ctx,
		`SELECT `+pgAgencyColumns+` FROM agencies WHERE detailed_scraped = FALSE ORDER BY id`)
}

func (s *PostgresStore) ListAgencies(ctx context.Context) ([]crawler.Agency, error) {
	return s.queryAgencies(ctx,
		`SELECT `+pgAgencyColumns+` FROM agencies ORDER BY category_name, agency_name`)
}

func (s *PostgresStore) queryAgencies(ctx context.Context, query string, args ...any) ([]crawler.Agency, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query agencies")
	}
	defer rows.Close()

	var agencies []crawler.Agency
	for rows.Next() {
		var a crawler.Agency
		if err := rows.Scan(&a.ID, &a.CategoryID, &a.CategoryName, &a.Name, &a.SiteURL,
			&a.LogoURL, &a.LocalLogoPath, &a.Description, &a.Idx, &a.DetailURL,
			&a.DetailDesc, &a.DetailScraped, &a.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "postgres: scan agency")
		}
		agencies = append(agencies, a)
	}
	return agencies, eris.Wrap(rows.Err(), "postgres: iterate agencies")
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]crawler.Category, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, category_name, category_link, agency_count, scraped, last_page, last_updated
		 FROM categories ORDER BY category_name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list categories")
	}
	defer rows.Close()

	var categories []crawler.Category
	for rows.Next() {
		var c crawler.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Link, &c.AgencyCount,
			&c.Scraped, &c.LastPage, &c.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		categories = append(categories, c)
	}
	return categories, eris.Wrap(rows.Err(), "postgres: iterate categories")
}

func (s *PostgresStore) StartSession(ctx context.Context, categoriesTotal, agenciesTotal int) (string, error) {
	// Conditional insert keeps the single-running-session check atomic
	// without an explicit transaction.
	id := uuid.New().String()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO scraping_status (id, started_at, categories_total, agencies_total, status)
		 SELECT $1, $2, $3, $4, $5
		 WHERE NOT EXISTS (SELECT 1 FROM scraping_status WHERE status = $5)`,
		id, time.Now().UTC(), categoriesTotal, agenciesTotal, string(crawler.StatusRunning))
	if err != nil {
		return "", eris.Wrap(err, "postgres: start session")
	}
	if tag.RowsAffected() == 0 {
		return "", crawler.ErrSessionRunning
	}
	return id, nil
}

func (s *PostgresStore) UpdateSessionCounters(ctx context.Context, sessionID string, delta crawler.SessionDelta) error {
	if delta.IsZero() {
		return nil
	}
	if delta.CategoriesTotal < 0 || delta.CategoriesScraped < 0 ||
		delta.AgenciesTotal < 0 || delta.AgenciesScraped < 0 ||
		delta.DetailsTotal < 0 || delta.DetailsScraped < 0 {
		return eris.New("session counters only increase")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE scraping_status SET
		 categories_total = categories_total + $1,
		 categories_scraped = categories_scraped + $2,
		 agencies_total = agencies_total + $3,
		 agencies_scraped = agencies_scraped + $4,
		 details_total = details_total + $5,
		 details_scraped = details_scraped + $6
		 WHERE id = $7`,
		delta.CategoriesTotal, delta.CategoriesScraped,
		delta.AgenciesTotal, delta.AgenciesScraped,
		delta.DetailsTotal, delta.DetailsScraped, sessionID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update session counters %s", sessionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(crawler.ErrNotFound, "session %s", sessionID)
	}
	return nil
}

func (s *PostgresStore) CloseSession(ctx context.Context, sessionID string, status crawler.SessionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scraping_status SET ended_at = $1, status = $2 WHERE id = $3`,
		time.Now().UTC(), string(status), sessionID)
	if err != nil {
		return eris.Wrapf(err, "postgres: close session %s", sessionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(crawler.ErrNotFound, "session %s", sessionID)
	}
	return nil
}

func (s *PostgresStore) LatestSession(ctx context.Context) (crawler.Session, error) {
	var sess crawler.Session
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, started_at, ended_at, categories_total, categories_scraped,
		 agencies_total, agencies_scraped, details_total, details_scraped, status
		 FROM scraping_status ORDER BY started_at DESC LIMIT 1`).Scan(
		&sess.ID, &sess.StartedAt, &sess.EndedAt,
		&sess.CategoriesTotal, &sess.CategoriesScraped,
		&sess.AgenciesTotal, &sess.AgenciesScraped,
		&sess.DetailsTotal, &sess.DetailsScraped, &status)
	if err == pgx.ErrNoRows {
		return crawler.Session{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Session{}, eris.Wrap(err, "postgres: latest session")
	}
	sess.Status = crawler.SessionStatus(status)
	return sess, nil
}
