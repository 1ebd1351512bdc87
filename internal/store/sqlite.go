// Package store provides the persistence implementations behind the
// crawler.Store contract: a SQLite file store (the default), a Postgres
// store for shared deployments, and an in-memory store for tests.
package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/agencyscope/agencydir/internal/crawler"
)

// SQLiteStore implements crawler.Store using modernc.org/sqlite. Each logical
// operation runs in a single transaction under the store lock, so readers
// never observe a half-applied upsert and an ambiguous failure leaves no
// partial row.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite database at the given path,
// configures WAL mode, and applies the schema.
func NewSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
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
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS categories (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	category_name TEXT NOT NULL UNIQUE,
	category_link TEXT NOT NULL DEFAULT '',
	agency_count  INTEGER NOT NULL DEFAULT 0,
	scraped       BOOLEAN NOT NULL DEFAULT 0,
	last_page     INTEGER NOT NULL DEFAULT 0,
	last_updated  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS agencies (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	category_id      INTEGER NOT NULL REFERENCES categories(id),
	category_name    TEXT NOT NULL,
	agency_name      TEXT NOT NULL,
	site_url         TEXT NOT NULL DEFAULT '',
	logo_url         TEXT NOT NULL DEFAULT '',
	local_logo_path  TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	idx              TEXT NOT NULL DEFAULT '',
	detail_url       TEXT NOT NULL DEFAULT '',
	detail_desc      TEXT NOT NULL DEFAULT '',
	detailed_scraped BOOLEAN NOT NULL DEFAULT 0,
	last_updated     DATETIME NOT NULL,
	UNIQUE (category_id, agency_name)
);

CREATE TABLE IF NOT EXISTS scraping_status (
	id                 TEXT PRIMARY KEY,
	started_at         DATETIME NOT NULL,
	ended_at           DATETIME,
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
CREATE INDEX IF NOT EXISTS idx_scraping_status_started_at ON scraping_status(started_at);
`

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// inTx runs fn inside one transaction, rolling back on any error.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) UpsertCategory(ctx context.Context, name, link string, agencyCount int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		row := tx.QueryRowContext(ctx,
			`SELECT id FROM categories WHERE category_name = ?`, name)
		switch err := row.Scan(&id); err {
		case nil:
			// Refresh the listing tuple; scraped and last_page are resume
			// state and only move through their dedicated operations.
			_, err := tx.ExecContext(ctx,
				`UPDATE categories SET category_link = ?, agency_count = ?, last_updated = ? WHERE id = ?`,
				link, agencyCount, now, id)
			return eris.Wrapf(err, "sqlite: update category %s", name)
		case sql.ErrNoRows:
			res, err := tx.ExecContext(ctx,
				`INSERT INTO categories (category_name, category_link, agency_count, last_updated) VALUES (?, ?, ?, ?)`,
				name, link, agencyCount, now)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert category %s", name)
			}
			id, err = res.LastInsertId()
			return eris.Wrap(err, "sqlite: category id")
		default:
			return eris.Wrapf(err, "sqlite: select category %s", name)
		}
	})
	return id, err
}

func (s *SQLiteStore) UpsertAgency(ctx context.Context, a crawler.Agency) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		var existingLogo string
		row := tx.QueryRowContext(ctx,
			`SELECT id, local_logo_path FROM agencies WHERE category_id = ? AND agency_name = ?`,
			a.CategoryID, a.Name)
		switch err := row.Scan(&id, &existingLogo); err {
		case nil:
			// Listing fields refresh; detail_desc and detailed_scraped are
			// owned by RecordAgencyDetail and never touched here. An empty
			// incoming logo path keeps the one already on disk.
			logoPath := a.LocalLogoPath
			if logoPath == "" {
				logoPath = existingLogo
			}
			_, err := tx.ExecContext(ctx,
				`UPDATE agencies SET category_name = ?, site_url = ?, logo_url = ?, local_logo_path = ?,
				 description = ?, idx = ?, detail_url = ?, last_updated = ? WHERE id = ?`,
				a.CategoryName, a.SiteURL, a.LogoURL, logoPath,
				a.Description, a.Idx, a.DetailURL, now, id)
			return eris.Wrapf(err, "sqlite: update agency %s", a.Name)
		case sql.ErrNoRows:
			res, err := tx.ExecContext(ctx,
				`INSERT INTO agencies (category_id, category_name, agency_name, site_url, logo_url,
				 local_logo_path, description, idx, detail_url, last_updated)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				a.CategoryID, a.CategoryName, a.Name, a.SiteURL, a.LogoURL,
				a.LocalLogoPath, a.Description, a.Idx, a.DetailURL, now)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert agency %s", a.Name)
			}
			id, err = res.LastInsertId()
			return eris.Wrap(err, "sqlite: agency id")
		default:
			return eris.Wrapf(err, "sqlite: select agency %s", a.Name)
		}
	})
	return id, err
}

func (s *SQLiteStore) RecordAgencyDetail(ctx context.Context, agencyID int64, detailDesc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE agencies SET detail_desc = ?, detailed_scraped = 1, last_updated = ? WHERE id = ?`,
			detailDesc, time.Now().UTC(), agencyID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: record detail %d", agencyID)
		}
		return checkRowsAffected(res, agencyID)
	})
}

func (s *SQLiteStore) MarkCategoryScraped(ctx context.Context, categoryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE categories SET scraped = 1, last_updated = ? WHERE id = ?`,
			time.Now().UTC(), categoryID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: mark category scraped %d", categoryID)
		}
		return checkRowsAffected(res, categoryID)
	})
}

func (s *SQLiteStore) SetCategoryLastPage(ctx context.Context, categoryID int64, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE categories SET last_page = ?, last_updated = ? WHERE id = ?`,
			page, time.Now().UTC(), categoryID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: set last page %d", categoryID)
		}
		return checkRowsAffected(res, categoryID)
	})
}

const agencyColumns = `id, category_id, category_name, agency_name, site_url, logo_url,
	local_logo_path, description, idx, detail_url, detail_desc, detailed_scraped, last_updated`

func (s *SQLiteStore) AgenciesMissingDetail(ctx context.Context) ([]crawler.Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAgencies(ctx,
		`SELECT `+agencyColumns+` FROM agencies WHERE detailed_scraped = 0 ORDER BY id`)
}

func (s *SQLiteStore) ListAgencies(ctx context.Context) ([]crawler.Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryAgencies(ctx,
		`SELECT `+agencyColumns+` FROM agencies ORDER BY category_name, agency_name`)
}

func (s *SQLiteStore) queryAgencies(ctx context.Context, query string, args ...any) ([]crawler.Agency, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query agencies")
	}
	defer rows.Close()

	var agencies []crawler.Agency
	for rows.Next() {
		var a crawler.Agency
		if err := rows.Scan(&a.ID, &a.CategoryID, &a.CategoryName, &a.Name, &a.SiteURL,
			&a.LogoURL, &a.LocalLogoPath, &a.Description, &a.Idx, &a.DetailURL,
			&a.DetailDesc, &a.DetailScraped, &a.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan agency")
		}
		agencies = append(agencies, a)
	}
	return agencies, eris.Wrap(rows.Err(), "sqlite: iterate agencies")
}

func (s *SQLiteStore) ListCategories(ctx context.Context) ([]crawler.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category_name, category_link, agency_count, scraped, last_page, last_updated
		 FROM categories ORDER BY category_name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list categories")
	}
	defer rows.Close()

	var categories []crawler.Category
	for rows.Next() {
		var c crawler.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Link, &c.AgencyCount,
			&c.Scraped, &c.LastPage, &c.LastUpdated); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		categories = append(categories, c)
	}
	return categories, eris.Wrap(rows.Err(), "sqlite: iterate categories")
}

func (s *SQLiteStore) StartSession(ctx context.Context, categoriesTotal, agenciesTotal int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var running int
		row := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM scraping_status WHERE status = ?`,
			string(crawler.StatusRunning))
		if err := row.Scan(&running); err != nil {
			return eris.Wrap(err, "sqlite: count running sessions")
		}
		if running > 0 {
			return crawler.ErrSessionRunning
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO scraping_status (id, started_at, categories_total, agencies_total, status)
			 VALUES (?, ?, ?, ?, ?)`,
			id, time.Now().UTC(), categoriesTotal, agenciesTotal, string(crawler.StatusRunning))
		return eris.Wrap(err, "sqlite: insert session")
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) UpdateSessionCounters(ctx context.Context, sessionID string, delta crawler.SessionDelta) error {
	if delta.IsZero() {
		return nil
	}
	if delta.CategoriesTotal < 0 || delta.CategoriesScraped < 0 ||
		delta.AgenciesTotal < 0 || delta.AgenciesScraped < 0 ||
		delta.DetailsTotal < 0 || delta.DetailsScraped < 0 {
		return eris.New("session counters only increase")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE scraping_status SET
			 categories_total = categories_total + ?,
			 categories_scraped = categories_scraped + ?,
			 agencies_total = agencies_total + ?,
			 agencies_scraped = agencies_scraped + ?,
			 details_total = details_total + ?,
			 details_scraped = details_scraped + ?
			 WHERE id = ?`,
			delta.CategoriesTotal, delta.CategoriesScraped,
			delta.AgenciesTotal, delta.AgenciesScraped,
			delta.DetailsTotal, delta.DetailsScraped, sessionID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update session counters %s", sessionID)
		}
		return checkSessionAffected(res, sessionID)
	})
}

func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID string, status crawler.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE scraping_status SET ended_at = ?, status = ? WHERE id = ?`,
			time.Now().UTC(), string(status), sessionID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: close session %s", sessionID)
		}
		return checkSessionAffected(res, sessionID)
	})
}

func (s *SQLiteStore) LatestSession(ctx context.Context) (crawler.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, categories_total, categories_scraped,
		 agencies_total, agencies_scraped, details_total, details_scraped, status
		 FROM scraping_status ORDER BY started_at DESC LIMIT 1`)

	var sess crawler.Session
	var ended sql.NullTime
	var status string
	err := row.Scan(&sess.ID, &sess.StartedAt, &ended,
		&sess.CategoriesTotal, &sess.CategoriesScraped,
		&sess.AgenciesTotal, &sess.AgenciesScraped,
		&sess.DetailsTotal, &sess.DetailsScraped, &status)
	if err == sql.ErrNoRows {
		return crawler.Session{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Session{}, eris.Wrap(err, "sqlite: latest session")
	}
	if ended.Valid {
		t := ended.Time
		sess.EndedAt = &t
	}
	sess.Status = crawler.SessionStatus(status)
	return sess, nil
}

// helpers

func checkRowsAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(crawler.ErrNotFound, "id %d", id)
	}
	return nil
}

func checkSessionAffected(res sql.Result, sessionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(crawler.ErrNotFound, "session %s", sessionID)
	}
	return nil
}
