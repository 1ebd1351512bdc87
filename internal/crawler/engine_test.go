package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agencyscope/agencydir/internal/crawler"
	"github.com/agencyscope/agencydir/internal/progress"
	"github.com/agencyscope/agencydir/internal/store"
)

// fakeRenderer serves canned pages by URL. Unknown URLs fail like a dead
// navigation so retry paths can be exercised.
type fakeRenderer struct {
	mu    sync.Mutex
	pages map[string]string
	hits  map[string]int
}

func newFakeRenderer(pages map[string]string) *fakeRenderer {
	return &fakeRenderer{pages: pages, hits: make(map[string]int)}
}

func (r *fakeRenderer) Render(_ context.Context, rawURL string) (crawler.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits[rawURL]++
	body, ok := r.pages[rawURL]
	if !ok {
		return crawler.Page{}, fmt.Errorf("net::ERR_CONNECTION_REFUSED %s", rawURL)
	}
	return crawler.Page{URL: rawURL, FinalURL: rawURL, StatusCode: 200, Body: []byte(body), UsedJS: true}, nil
}

func (r *fakeRenderer) Evaluate(_ context.Context, script string) (crawler.Page, error) {
	return crawler.Page{}, errors.New("no script pagination in fixtures")
}

func (r *fakeRenderer) Close(context.Context) error { return nil }

func (r *fakeRenderer) hitCount(url string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[url]
}

// captureEmitter records every emitted event.
type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) stages() []progress.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Stage, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.Stage)
	}
	return out
}

func testConfig() crawler.Config {
	cfg := crawler.DefaultConfig()
	cfg.BaseURL = "https://dir.test"
	cfg.SettleDelay = 0
	cfg.MaxNavAttempts = 2
	cfg.DetailNavAttempts = 1
	return cfg
}

func directoryHTML(categories ...string) string {
	items := ""
	for _, c := range categories {
		items += fmt.Sprintf(
			`<li><a href="/ab-7553?cat=%s">%s
3개의 대행사</a></li>`, c, c)
	}
	return `<html><body><div class="category_wrap"><ul>` + items + `</ul></div></body></html>`
}

func card(name, idx string) string {
	return fmt.Sprintf(`<div>
		<a class="link_tit" href="/ab-7554?idx=%s"><span class="AB-LF-common">%s</span></a>
		<div class="url"><a>https://%s.test</a></div>
		<p class="desc">%s does marketing</p>
	</div>`, idx, name, name, name)
}

func listingHTML(paging string, cards ...string) string {
	body := `<div class="_list">`
	for _, c := range cards {
		body += c
	}
	body += `</div>` + paging
	return `<html><body>` + body + `</body></html>`
}

func detailHTML(text string) string {
	return `<html><body><div class="intro">` + text + `</div></body></html>`
}

func TestEngineRun_TargetedCrawlWithCap(t *testing.T) {
	cfg := testConfig()
	cfg.TargetCategories = []string{"디자인"}
	cfg.MaxAgenciesPerCategory = 2

	renderer := newFakeRenderer(map[string]string{
		"https://dir.test/ab-7553": directoryHTML("디자인", "마케팅"),
		"https://dir.test/ab-7553?cat=디자인": listingHTML("",
			card("acme", "101"), card("bravo", "102"), card("charlie", "103")),
		"https://dir.test/ab-7554-101": detailHTML("acme long form"),
		"https://dir.test/ab-7554-102": detailHTML("bravo long form"),
	})

	st := store.NewMemory()
	emitter := &captureEmitter{}
	eng := crawler.NewEngine(cfg, st, renderer, nil, nil, nil, emitter, zap.NewNop())

	require.NoError(t, eng.Run(context.Background()))

	ctx := context.Background()
	cats, err := st.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	byName := map[string]crawler.Category{}
	for _, c := range cats {
		byName[c.Name] = c
	}
	assert.True(t, byName["디자인"].Scraped)
	assert.False(t, byName["마케팅"].Scraped)
	assert.Equal(t, 3, byName["디자인"].AgencyCount)

	agencies, err := st.ListAgencies(ctx)
	require.NoError(t, err)
	require.Len(t, agencies, 2)
	for _, a := range agencies {
		assert.True(t, a.DetailScraped)
		assert.NotEmpty(t, a.DetailDesc)
		assert.Equal(t, "https://dir.test/ab-7554-"+a.Idx, a.DetailURL)
	}

	sess, err := st.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, sess.Status)

	stages := emitter.stages()
	assert.Contains(t, stages, progress.StageSessionStart)
	assert.Contains(t, stages, progress.StageCategoryScraped)
	assert.Contains(t, stages, progress.StageDetailScraped)
	assert.Contains(t, stages, progress.StageSessionDone)
}

func TestEngineRun_PaginatesViaHref(t *testing.T) {
	cfg := testConfig()
	cfg.TargetCategories = []string{"디자인"}

	paging := `<div class="paging"><a class="LF_page_link_current">1</a>` +
		`<a href="/ab-7553?cat=디자인&page=2">다음</a></div>`
	renderer := newFakeRenderer(map[string]string{
		"https://dir.test/ab-7553":                directoryHTML("디자인"),
		"https://dir.test/ab-7553?cat=디자인":        listingHTML(paging, card("acme", "101")),
		"https://dir.test/ab-7553?cat=디자인&page=2": listingHTML("", card("bravo", "102")),
		"https://dir.test/ab-7554-101":            detailHTML("acme"),
		"https://dir.test/ab-7554-102":            detailHTML("bravo"),
	})

	st := store.NewMemory()
	eng := crawler.NewEngine(cfg, st, renderer, nil, nil, nil, nil, zap.NewNop())
	require.NoError(t, eng.Run(context.Background()))

	agencies, err := st.ListAgencies(context.Background())
	require.NoError(t, err)
	assert.Len(t, agencies, 2)
}

func TestEngineRun_ResumeSkipsScrapedCategory(t *testing.T) {
	cfg := testConfig()
	ctx := context.Background()

	st := store.NewMemory()
	catID, err := st.UpsertCategory(ctx, "디자인", "https://dir.test/ab-7553?cat=디자인", 3)
	require.NoError(t, err)
	require.NoError(t, st.MarkCategoryScraped(ctx, catID))

	renderer := newFakeRenderer(map[string]string{
		"https://dir.test/ab-7553": directoryHTML("디자인"),
	})
	cfg.SkipDetails = true
	eng := crawler.NewEngine(cfg, st, renderer, nil, nil, nil, nil, zap.NewNop())
	require.NoError(t, eng.Run(ctx))

	assert.Zero(t, renderer.hitCount("https://dir.test/ab-7553?cat=디자인"))
}

func TestEngineRun_ResumeFromPageCursor(t *testing.T) {
	cfg := testConfig()
	cfg.SkipDetails = true
	ctx := context.Background()

	st := store.NewMemory()
	catID, err := st.UpsertCategory(ctx, "디자인", "https://dir.test/ab-7553?cat=디자인", 3)
	require.NoError(t, err)
	require.NoError(t, st.SetCategoryLastPage(ctx, catID, 1))

	paging := `<div class="paging"><a class="LF_page_link_current">1</a>` +
		`<a href="/ab-7553?cat=디자인&page=2">다음</a></div>`
	renderer := newFakeRenderer(map[string]string{
		"https://dir.test/ab-7553":                directoryHTML("디자인"),
		"https://dir.test/ab-7553?cat=디자인":        listingHTML(paging, card("acme", "101")),
		"https://dir.test/ab-7553?cat=디자인&page=2": listingHTML("", card("bravo", "102")),
	})
	eng := crawler.NewEngine(cfg, st, renderer, nil, nil, nil, nil, zap.NewNop())
	require.NoError(t, eng.Run(ctx))

	agencies, err := st.ListAgencies(ctx)
	require.NoError(t, err)
	require.Len(t, agencies, 1)
	assert.Equal(t, "bravo", agencies[0].Name)
}

func TestEngineRun_ListingNavFailureAbandonsCategoryOnly(t *testing.T) {
	cfg := testConfig()
	cfg.SkipDetails = true

	// 마케팅's listing URL is absent from the fixtures, so its navigation
	// fails through the whole retry budget.
	renderer := newFakeRenderer(map[string]string{
		"https://dir.test/ab-7553":         directoryHTML("마케팅", "디자인"),
		"https://dir.test/ab-7553?cat=디자인": listingHTML("", card("acme", "101")),
	})

	st := store.NewMemory()
	emitter := &captureEmitter{}
	eng := crawler.NewEngine(cfg, st, renderer, nil, nil, nil, emitter, zap.NewNop())
	require.NoError(t, eng.Run(context.Background()))

	ctx := context.Background()
	cats, err := st.ListCategories(ctx)
	require.NoError(t, err)
	scraped := map[string]bool{}
	for _, c := range cats {
		scraped[c.Name] = c.Scraped
	}
	assert.False(t, scraped["마케팅"])
	assert.True(t, scraped["디자인"])

	assert.Equal(t, 2, renderer.hitCount("https://dir.test/ab-7553?cat=마케팅"))
	assert.Contains(t, emitter.stages(), progress.StageNavRetry)
	assert.Contains(t, emitter.stages(), progress.StageUnitFailed)

	sess, err := st.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, sess.Status)
}

func TestEngineRun_DetailFailureLeavesAgencyInBacklog(t *testing.T) {
	cfg := testConfig()

	listing := listingHTML("", card("acme", "101"), card("bravo", "102"))
	renderer := newFakeRenderer(map[string]string{
		"https://dir.test/ab-7553":         directoryHTML("디자인"),
		"https://dir.test/ab-7553?cat=디자인": listing,
		"https://dir.test/ab-7554-101":     detailHTML("acme long form"),
		// 102 has no fixture: its detail nav fails.
	})

	st := store.NewMemory()
	eng := crawler.NewEngine(cfg, st, renderer, nil, nil, nil, nil, zap.NewNop())
	require.NoError(t, eng.Run(context.Background()))

	backlog, err := st.AgenciesMissingDetail(context.Background())
	require.NoError(t, err)
	require.Len(t, backlog, 1)
	assert.Equal(t, "bravo", backlog[0].Name)

	sess, err := st.LatestSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusCompleted, sess.Status)
}

func TestEngineRun_DirectoryFailureFailsSession(t *testing.T) {
	cfg := testConfig()
	renderer := newFakeRenderer(map[string]string{})
	st := store.NewMemory()
	eng := crawler.NewEngine(cfg, st, renderer, nil, nil, nil, nil, zap.NewNop())

	err := eng.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrNavigation)

	sess, serr := st.LatestSession(context.Background())
	require.NoError(t, serr)
	assert.Equal(t, crawler.StatusFailed, sess.Status)
	require.NotNil(t, sess.EndedAt)
}

func TestEngineRun_SecondSessionRejected(t *testing.T) {
	cfg := testConfig()
	ctx := context.Background()
	st := store.NewMemory()
	_, err := st.StartSession(ctx, 0, 0)
	require.NoError(t, err)

	eng := crawler.NewEngine(cfg, st, newFakeRenderer(nil), nil, nil, nil, nil, zap.NewNop())
	err = eng.Run(ctx)
	assert.ErrorIs(t, err, crawler.ErrSessionRunning)
}

func TestEngineRun_CancellationStopsBetweenUnits(t *testing.T) {
	cfg := testConfig()
	cfg.SkipDetails = true

	ctx, cancel := context.WithCancel(context.Background())
	renderer := newFakeRenderer(map[string]string{
		"https://dir.test/ab-7553": directoryHTML("디자인"),
	})
	st := store.NewMemory()
	eng := crawler.NewEngine(cfg, st, renderer, nil, nil, nil, nil, zap.NewNop())

	cancel()
	err := eng.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineRun_ProbeServesDetailWithoutRenderer(t *testing.T) {
	cfg := testConfig()

	renderer := newFakeRenderer(map[string]string{
		"https://dir.test/ab-7553":         directoryHTML("디자인"),
		"https://dir.test/ab-7553?cat=디자인": listingHTML("", card("acme", "101")),
	})
	probe := &fakeFetcher{pages: map[string]string{
		"https://dir.test/ab-7554-101": detailHTML("probed description"),
	}}

	st := store.NewMemory()
	eng := crawler.NewEngine(cfg, st, renderer, probe, alwaysStatic{}, nil, nil, zap.NewNop())
	require.NoError(t, eng.Run(context.Background()))

	agencies, err := st.ListAgencies(context.Background())
	require.NoError(t, err)
	require.Len(t, agencies, 1)
	assert.Equal(t, "probed description", agencies[0].DetailDesc)
	assert.Zero(t, renderer.hitCount("https://dir.test/ab-7554-101"))
}

type fakeFetcher struct {
	pages map[string]string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (crawler.Page, error) {
	body, ok := f.pages[rawURL]
	if !ok {
		return crawler.Page{}, errors.New("connection refused")
	}
	return crawler.Page{URL: rawURL, StatusCode: 200, Body: []byte(body)}, nil
}

type alwaysStatic struct{}

func (alwaysStatic) NeedsJS(context.Context, crawler.Page) bool { return false }
