package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/agencyscope/agencydir/internal/crawler"
)

// MemoryStore is an in-memory crawler.Store for development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	nextID     int64
	categories map[int64]crawler.Category
	agencies   map[int64]crawler.Agency
	sessions   map[string]crawler.Session
	order      []string
}

// NewMemory constructs an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		nextID:     1,
		categories: make(map[int64]crawler.Category),
		agencies:   make(map[int64]crawler.Agency),
		sessions:   make(map[string]crawler.Session),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) UpsertCategory(_ context.Context, name, link string, agencyCount int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for id, cat := range s.categories {
		if cat.Name == name {
			cat.Link = link
			cat.AgencyCount = agencyCount
			cat.LastUpdated = now
			s.categories[id] = cat
			return id, nil
		}
	}
	id := s.nextID
	s.nextID++
	s.categories[id] = crawler.Category{
		ID:          id,
		Name:        name,
		Link:        link,
		AgencyCount: agencyCount,
		LastUpdated: now,
	}
	return id, nil
}

func (s *MemoryStore) UpsertAgency(_ context.Context, a crawler.Agency) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for id, existing := range s.agencies {
		if existing.CategoryID == a.CategoryID && existing.Name == a.Name {
			existing.CategoryName = a.CategoryName
			existing.SiteURL = a.SiteURL
			existing.LogoURL = a.LogoURL
			if a.LocalLogoPath != "" {
				existing.LocalLogoPath = a.LocalLogoPath
			}
			existing.Description = a.Description
			existing.Idx = a.Idx
			existing.DetailURL = a.DetailURL
			existing.LastUpdated = now
			s.agencies[id] = existing
			return id, nil
		}
	}
	id := s.nextID
	s.nextID++
	a.ID = id
	a.DetailDesc = ""
	a.DetailScraped = false
	a.LastUpdated = now
	s.agencies[id] = a
	return id, nil
}

func (s *MemoryStore) RecordAgencyDetail(_ context.Context, agencyID int64, detailDesc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agencies[agencyID]
	if !ok {
		return crawler.ErrNotFound
	}
	a.DetailDesc = detailDesc
	a.DetailScraped = true
	a.LastUpdated = time.Now().UTC()
	s.agencies[agencyID] = a
	return nil
}

func (s *MemoryStore) MarkCategoryScraped(_ context.Context, categoryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[categoryID]
	if !ok {
		return crawler.ErrNotFound
	}
	c.Scraped = true
	c.LastUpdated = time.Now().UTC()
	s.categories[categoryID] = c
	return nil
}

func (s *MemoryStore) SetCategoryLastPage(_ context.Context, categoryID int64, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.categories[categoryID]
	if !ok {
		return crawler.ErrNotFound
	}
	c.LastPage = page
	c.LastUpdated = time.Now().UTC()
	s.categories[categoryID] = c
	return nil
}

func (s *MemoryStore) AgenciesMissingDetail(_ context.Context) ([]crawler.Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []crawler.Agency
	for _, a := range s.agencies {
		if !a.DetailScraped {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListCategories(_ context.Context) ([]crawler.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]crawler.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) ListAgencies(_ context.Context) ([]crawler.Agency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]crawler.Agency, 0, len(s.agencies))
	for _, a := range s.agencies {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CategoryName != out[j].CategoryName {
			return out[i].CategoryName < out[j].CategoryName
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *MemoryStore) StartSession(_ context.Context, categoriesTotal, agenciesTotal int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.Status == crawler.StatusRunning {
			return "", crawler.ErrSessionRunning
		}
	}
	id := uuid.New().String()
	s.sessions[id] = crawler.Session{
		ID:              id,
		StartedAt:       time.Now().UTC(),
		CategoriesTotal: categoriesTotal,
		AgenciesTotal:   agenciesTotal,
		Status:          crawler.StatusRunning,
	}
	s.order = append(s.order, id)
	return id, nil
}

func (s *MemoryStore) UpdateSessionCounters(_ context.Context, sessionID string, delta crawler.SessionDelta) error {
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

	sess, ok := s.sessions[sessionID]
	if !ok {
		return crawler.ErrNotFound
	}
	sess.CategoriesTotal += delta.CategoriesTotal
	sess.CategoriesScraped += delta.CategoriesScraped
	sess.AgenciesTotal += delta.AgenciesTotal
	sess.AgenciesScraped += delta.AgenciesScraped
	sess.DetailsTotal += delta.DetailsTotal
	sess.DetailsScraped += delta.DetailsScraped
	s.sessions[sessionID] = sess
	return nil
}

func (s *MemoryStore) CloseSession(_ context.Context, sessionID string, status crawler.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return crawler.ErrNotFound
	}
	now := time.Now().UTC()
	sess.EndedAt = &now
	sess.Status = status
	s.sessions[sessionID] = sess
	return nil
}

func (s *MemoryStore) LatestSession(_ context.Context) (crawler.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return crawler.Session{}, crawler.ErrNotFound
	}
	return s.sessions[s.order[len(s.order)-1]], nil
}
