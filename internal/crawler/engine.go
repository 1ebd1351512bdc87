package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agencyscope/agencydir/internal/progress"
)

// Engine drives the three-stage pipeline: directory root to categories,
// listing pages to agencies, detail pages to long-form descriptions. The
// crawl itself is sequential (one navigation in flight, a politeness choice);
// the store it writes to stays readable concurrently.
//
// Failure scoping: a single agency or detail page failing is logged, leaves
// its flag unset, and never aborts the run. Listing-page navigation
// exhaustion abandons that category's pagination loop. Store failures and
// failure to enumerate categories end the run.
type Engine struct {
	cfg        Config
	store      Store
	renderer   Renderer
	probe      Fetcher
	detector   Detector
	logos      AssetFetcher
	listingNav RetryPolicy
	detailNav  RetryPolicy
	strategies []DetailStrategy
	emitter    progress.Emitter
	logger     *zap.Logger
	sessionID  string
}

// NewEngine constructs an Engine. probe and detector may be nil, in which
// case detail pages always use the renderer.
func NewEngine(
	cfg Config,
	store Store,
	renderer Renderer,
	probe Fetcher,
	detector Detector,
	logos AssetFetcher,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		renderer:   renderer,
		probe:      probe,
		detector:   detector,
		logos:      logos,
		listingNav: NewExponentialRetryPolicy(cfg.MaxNavAttempts),
		detailNav:  NewExponentialRetryPolicy(cfg.DetailNavAttempts),
		strategies: DefaultDetailStrategies(),
		emitter:    emitter,
		logger:     logger,
	}
}

// SessionID returns the id of the session opened by Run, once running.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Run executes the full pipeline and closes the session with a terminal
// status. A nil return means the session completed; any error means it was
// closed as failed (or could not be opened at all).
func (e *Engine) Run(ctx context.Context) error {
	sessionID, err := e.store.StartSession(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	e.sessionID = sessionID
	e.emit(progress.Event{Stage: progress.StageSessionStart})
	e.logger.Info("scraping session started", zap.String("session_id", sessionID))

	categories, err := e.fetchCategories(ctx)
	if err != nil {
		e.closeSession(StatusFailed)
		return fmt.Errorf("enumerate categories: %w", err)
	}

	for _, cat := range categories {
		if err := ctx.Err(); err != nil {
			e.closeSession(StatusFailed)
			return err
		}
		if cat.Scraped && !e.cfg.RefetchScraped {
			e.logger.Info("skipping scraped category", zap.String("category", cat.Name))
			continue
		}
		if err := e.fetchAgenciesForCategory(ctx, cat); err != nil {
			if errors.Is(err, ErrNavigation) {
				e.logger.Warn("abandoning category after navigation failure",
					zap.String("category", cat.Name), zap.Error(err))
				e.emit(progress.Event{
					Stage:    progress.StageUnitFailed,
					Category: cat.Name,
					Scope:    "listing",
					Note:     err.Error(),
				})
				continue
			}
			e.closeSession(StatusFailed)
			return fmt.Errorf("category %s: %w", cat.Name, err)
		}
	}

	if !e.cfg.SkipDetails {
		if err := e.fetchAllDetails(ctx); err != nil {
			e.closeSession(StatusFailed)
			return fmt.Errorf("detail pass: %w", err)
		}
	} else {
		e.logger.Info("skipping detail pass by configuration")
	}

	e.closeSession(StatusCompleted)
	return nil
}

// fetchCategories renders the directory root, upserts every category tuple,
// and returns the target subset with store-backed resume state.
func (e *Engine) fetchCategories(ctx context.Context) ([]Category, error) {
	page, err := e.renderWithRetry(ctx, e.cfg.DirectoryURL(), e.listingNav)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(page)
	if err != nil {
		return nil, err
	}
	listings := ParseCategoryList(doc)
	if len(listings) == 0 {
		return nil, errors.New("directory root yielded no categories")
	}

	for _, listing := range listings {
		link := e.cfg.AbsoluteURL(listing.Link)
		if _, err := e.store.UpsertCategory(ctx, listing.Name, link, listing.AgencyCount); err != nil {
			return nil, fmt.Errorf("upsert category %s: %w", listing.Name, err)
		}
	}
	e.emit(progress.Event{
		Stage: progress.StageCategoriesFound,
		Delta: progress.Delta{CategoriesTotal: len(listings)},
	})
	e.logger.Info("extracted categories", zap.Int("count", len(listings)))

	all, err := e.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	var selected []Category
	agenciesTotal := 0
	for _, cat := range all {
		if !e.cfg.WantsCategory(cat.Name) {
			continue
		}
		selected = append(selected, cat)
		agenciesTotal += cat.AgencyCount
	}
	if agenciesTotal > 0 {
		e.emit(progress.Event{Delta: progress.Delta{AgenciesTotal: agenciesTotal}, Stage: progress.StageCategoriesFound})
	}
	return selected, nil
}

// fetchAgenciesForCategory paginates the category's listing pages, upserting
// each agency. It marks the category scraped once the pagination loop
// completes, even when individual cards failed, and records a page cursor so
// an interrupted pass resumes where it died.
func (e *Engine) fetchAgenciesForCategory(ctx context.Context, cat Category) error {
	e.logger.Info("extracting agencies",
		zap.String("category", cat.Name),
		zap.Int("resume_page", cat.LastPage))

	page, err := e.renderWithRetry(ctx, cat.Link, e.listingNav)
	if err != nil {
		return err
	}

	collected := 0
	capReached := false
	for pageNum := 1; ; pageNum++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := ParseDocument(page)
		if err != nil {
			return fmt.Errorf("%w: listing page %d: %v", ErrNavigation, pageNum, err)
		}
		listings := ParseAgencyList(doc)
		if len(listings) == 0 {
			e.logger.Info("listing page yielded no agencies, stopping pagination",
				zap.String("category", cat.Name), zap.Int("page", pageNum))
			break
		}

		// Pages at or below the persisted cursor were fully processed by an
		// earlier run; paginate past them without re-upserting.
		if pageNum > cat.LastPage {
			for _, listing := range listings {
				if e.cfg.MaxAgenciesPerCategory > 0 && collected >= e.cfg.MaxAgenciesPerCategory {
					capReached = true
					break
				}
				if err := e.upsertListing(ctx, cat, listing); err != nil {
					return err
				}
				collected++
			}
			if !capReached {
				if err := e.store.SetCategoryLastPage(ctx, cat.ID, pageNum); err != nil {
					return fmt.Errorf("persist page cursor: %w", err)
				}
			}
		}
		if capReached {
			e.logger.Info("reached per-category agency cap",
				zap.String("category", cat.Name),
				zap.Int("cap", e.cfg.MaxAgenciesPerCategory))
			break
		}

		pagination := ParsePagination(doc, e.cfg.AbsoluteURL)
		if !pagination.HasNext {
			break
		}
		if pagination.NextURL != "" {
			page, err = e.renderWithRetry(ctx, pagination.NextURL, e.listingNav)
		} else {
			page, err = e.evaluateWithRetry(ctx, pagination.ClickScript, e.listingNav)
		}
		if err != nil {
			return err
		}
	}

	if err := e.store.MarkCategoryScraped(ctx, cat.ID); err != nil {
		return fmt.Errorf("mark category scraped: %w", err)
	}
	e.emit(progress.Event{
		Stage:    progress.StageCategoryScraped,
		Category: cat.Name,
		Delta:    progress.Delta{CategoriesScraped: 1},
	})
	e.logger.Info("category scraped",
		zap.String("category", cat.Name), zap.Int("agencies", collected))
	return nil
}

// upsertListing turns one listing card into an agency row. Logo failures are
// logged and leave the local path null; only store failures propagate.
func (e *Engine) upsertListing(ctx context.Context, cat Category, listing AgencyListing) error {
	idx := ExtractAgencyIdx(listing.Href)
	detailURL := ""
	if idx != "" {
		detailURL = e.cfg.DetailURL(idx)
	} else {
		e.logger.Debug("listing href carries no idx",
			zap.String("agency", listing.Name), zap.String("href", listing.Href))
	}

	logoPath := ""
	if listing.LogoURL != "" && e.logos != nil {
		path, err := e.logos.FetchLogo(ctx, e.cfg.AbsoluteURL(listing.LogoURL), cat.Name, listing.Name)
		if err != nil {
			e.logger.Warn("logo download failed",
				zap.String("agency", listing.Name), zap.Error(err))
			e.emit(progress.Event{
				Stage:    progress.StageUnitFailed,
				Category: cat.Name,
				Agency:   listing.Name,
				Scope:    "logo",
				Note:     err.Error(),
			})
		} else {
			logoPath = path
		}
	}

	_, err := e.store.UpsertAgency(ctx, Agency{
		CategoryID:    cat.ID,
		CategoryName:  cat.Name,
		Name:          listing.Name,
		SiteURL:       listing.SiteURL,
		LogoURL:       listing.LogoURL,
		LocalLogoPath: logoPath,
		Description:   listing.Description,
		Idx:           idx,
		DetailURL:     detailURL,
	})
	if err != nil {
		return fmt.Errorf("upsert agency %s: %w", listing.Name, err)
	}
	e.emit(progress.Event{
		Stage:    progress.StageAgencyUpserted,
		Category: cat.Name,
		Agency:   listing.Name,
		Delta:    progress.Delta{AgenciesScraped: 1},
	})
	return nil
}

// fetchAllDetails drains the store's detail backlog. An agency whose detail
// page defeats every strategy keeps DetailScraped=false and stays eligible
// for a future resumed run.
func (e *Engine) fetchAllDetails(ctx context.Context) error {
	backlog, err := e.store.AgenciesMissingDetail(ctx)
	if err != nil {
		return fmt.Errorf("load detail backlog: %w", err)
	}
	if len(backlog) == 0 {
		e.logger.Info("no agencies missing detail descriptions")
		return nil
	}
	e.emit(progress.Event{
		Stage: progress.StageDetailsQueued,
		Delta: progress.Delta{DetailsTotal: len(backlog)},
	})
	e.logger.Info("fetching detail descriptions", zap.Int("backlog", len(backlog)))

	for _, agency := range backlog {
		if err := ctx.Err(); err != nil {
			return err
		}
		if agency.DetailURL == "" {
			e.skipDetail(agency, "no detail url")
			continue
		}
		desc, err := e.fetchDetail(ctx, agency)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			e.skipDetail(agency, err.Error())
			continue
		}
		if desc == "" {
			e.skipDetail(agency, "all extraction strategies empty")
			continue
		}
		if err := e.store.RecordAgencyDetail(ctx, agency.ID, desc); err != nil {
			if errors.Is(err, ErrNotFound) {
				e.logger.Error("detail recorded for unknown agency id",
					zap.Int64("agency_id", agency.ID), zap.Error(err))
				continue
			}
			return fmt.Errorf("record detail for %s: %w", agency.Name, err)
		}
		e.emit(progress.Event{
			Stage:    progress.StageDetailScraped,
			Category: agency.CategoryName,
			Agency:   agency.Name,
			Delta:    progress.Delta{DetailsScraped: 1},
		})
	}
	return nil
}

// fetchDetail probes the detail page statically and promotes to a headless
// render when the probe fails or looks like an unrendered JS shell.
func (e *Engine) fetchDetail(ctx context.Context, agency Agency) (string, error) {
	var page Page
	var err error

	useRenderer := true
	if e.probe != nil {
		page, err = e.probe.Fetch(ctx, agency.DetailURL)
		if err == nil && (e.detector == nil || !e.detector.NeedsJS(ctx, page)) {
			useRenderer = false
		} else if err != nil {
			e.logger.Debug("detail probe failed, promoting to renderer",
				zap.String("agency", agency.Name), zap.Error(err))
		}
	}
	if useRenderer {
		page, err = e.renderWithRetry(ctx, agency.DetailURL, e.detailNav)
		if err != nil {
			return "", err
		}
	}

	doc, err := ParseDocument(page)
	if err != nil {
		return "", err
	}
	desc, strategy := ParseAgencyDetail(doc, e.strategies)
	if strategy != "" {
		e.logger.Debug("detail extracted",
			zap.String("agency", agency.Name), zap.String("strategy", strategy))
	}
	return desc, nil
}

func (e *Engine) skipDetail(agency Agency, reason string) {
	e.logger.Warn("skipping agency detail",
		zap.String("agency", agency.Name),
		zap.String("reason", reason))
	e.emit(progress.Event{
		Stage:    progress.StageUnitFailed,
		Category: agency.CategoryName,
		Agency:   agency.Name,
		Scope:    "detail",
		Note:     reason,
	})
}

// renderWithRetry applies the navigation retry budget around the renderer.
// Exhaustion surfaces as ErrNavigation; the caller decides whether that is
// category-fatal or only agency-fatal.
func (e *Engine) renderWithRetry(ctx context.Context, rawURL string, policy RetryPolicy) (Page, error) {
	return e.navWithRetry(ctx, rawURL, policy, func(navCtx context.Context) (Page, error) {
		return e.renderer.Render(navCtx, rawURL)
	})
}

func (e *Engine) evaluateWithRetry(ctx context.Context, script string, policy RetryPolicy) (Page, error) {
	return e.navWithRetry(ctx, "tab:"+script, policy, func(navCtx context.Context) (Page, error) {
		return e.renderer.Evaluate(navCtx, script)
	})
}

func (e *Engine) navWithRetry(
	ctx context.Context,
	target string,
	policy RetryPolicy,
	nav func(context.Context) (Page, error),
) (Page, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		page, err := nav(ctx)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !policy.ShouldRetry(err, attempt+1) {
			break
		}
		e.emit(progress.Event{
			Stage: progress.StageNavRetry,
			URL:   target,
			Note:  err.Error(),
		})
		e.logger.Warn("navigation failed, retrying",
			zap.String("target", target), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return Page{}, ctx.Err()
		case <-time.After(policy.Backoff(attempt)):
		}
	}
	return Page{}, fmt.Errorf("%w: %s: %v", ErrNavigation, target, lastErr)
}

func (e *Engine) closeSession(status SessionStatus) {
	// Closing must not inherit a canceled crawl context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.CloseSession(ctx, e.sessionID, status); err != nil {
		e.logger.Error("close session failed",
			zap.String("session_id", e.sessionID), zap.Error(err))
		return
	}
	e.emit(progress.Event{Stage: progress.StageSessionDone, Status: string(status)})
	e.logger.Info("scraping session closed",
		zap.String("session_id", e.sessionID), zap.String("status", string(status)))
}

func (e *Engine) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	evt.SessionID = e.sessionID
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	e.emitter.Emit(evt)
}
