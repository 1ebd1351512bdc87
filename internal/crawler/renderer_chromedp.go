package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ChromedpRenderer renders pages using Chrome via chromedp. The crawl is
// sequential by design, so a single long-lived tab is reused for every
// navigation; pagination clicks run in that same tab via Evaluate.
type ChromedpRenderer struct {
	allocatorCancel context.CancelFunc
	tabCtx          context.Context
	tabCancel       context.CancelFunc
	logger          *zap.Logger
	timeout         time.Duration
	settle          time.Duration
	hostQPS         float64
	hostLimiters    sync.Map

	mu       sync.Mutex
	lastResp *network.Response
}

// NewChromedpRenderer launches the browser and opens the crawl tab. The
// headless switch has no behavioral effect beyond window visibility.
func NewChromedpRenderer(cfg Config, logger *zap.Logger) (*ChromedpRenderer, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(1920, 1080),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocatorCtx)

	r := &ChromedpRenderer{
		allocatorCancel: allocatorCancel,
		tabCtx:          tabCtx,
		tabCancel:       tabCancel,
		logger:          logger,
		timeout:         cfg.NavTimeout,
		settle:          cfg.SettleDelay,
		hostQPS:         cfg.HostQPS,
	}

	if err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.EmulateViewport(1920, 1080),
	); err != nil {
		tabCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		r.mu.Lock()
		r.lastResp = resp.Response
		r.mu.Unlock()
	})

	return r, nil
}

// Close tears down the tab and browser process.
func (r *ChromedpRenderer) Close(_ context.Context) error {
	if r == nil {
		return nil
	}
	r.tabCancel()
	r.allocatorCancel()
	return nil
}

// Render navigates the crawl tab to rawURL, waits for the page to settle,
// and returns the DOM snapshot.
func (r *ChromedpRenderer) Render(ctx context.Context, rawURL string) (Page, error) {
	if err := r.waitHostBudget(ctx, rawURL); err != nil {
		return Page{}, fmt.Errorf("render rate limit: %w", err)
	}

	var html string
	tasks := chromedp.Tasks{
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := r.run(ctx, tasks); err != nil {
		return Page{}, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	return r.snapshot(rawURL, html), nil
}

// Evaluate runs a script in the crawl tab (e.g. a pagination click), waits
// for the resulting content to settle, and re-snapshots the DOM.
func (r *ChromedpRenderer) Evaluate(ctx context.Context, script string) (Page, error) {
	var html, location string
	tasks := chromedp.Tasks{
		chromedp.Evaluate(script, nil),
		chromedp.Sleep(r.settle),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := r.run(ctx, tasks); err != nil {
		return Page{}, fmt.Errorf("evaluate in tab: %w", err)
	}
	return r.snapshot(location, html), nil
}

func (r *ChromedpRenderer) run(ctx context.Context, tasks chromedp.Tasks) error {
	taskCtx, cancelTask := context.WithTimeout(r.tabCtx, r.timeout)
	defer cancelTask()

	stop := forwardCancel(ctx, cancelTask)
	defer stop()

	return chromedp.Run(taskCtx, tasks)
}

func (r *ChromedpRenderer) snapshot(rawURL, html string) Page {
	page := Page{
		URL:      rawURL,
		FinalURL: rawURL,
		Body:     []byte(html),
		UsedJS:   true,
		Headers:  make(http.Header),
	}
	r.mu.Lock()
	if r.lastResp != nil {
		page.StatusCode = int(r.lastResp.Status)
		page.FinalURL = r.lastResp.URL
		for k, v := range r.lastResp.Headers {
			page.Headers.Add(k, fmt.Sprint(v))
		}
	}
	r.mu.Unlock()
	return page
}

func (r *ChromedpRenderer) waitHostBudget(ctx context.Context, rawURL string) error {
	if r.hostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := r.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(r.hostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	return limiter.Wait(ctx)
}

// forwardCancel propagates parent cancellation into a chromedp task context.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
