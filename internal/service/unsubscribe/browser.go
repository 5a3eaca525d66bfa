package unsubscribe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"inboxtriage/internal/config"
)

const (
	userAgent     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	actionTimeout = 10 * time.Second
	// networkIdlePause 是 load 之后留给异步请求的静置时间
	networkIdlePause = 500 * time.Millisecond
)

// ChromeLauncher starts a headless Chrome through chromedp.
func ChromeLauncher(cfg config.BrowserConfig) Launcher {
	return func(ctx context.Context) (Browser, error) {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.NoSandbox,
			chromedp.DisableGPU,
			chromedp.NoFirstRun,
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.UserAgent(userAgent),
		)
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}

		// The browser outlives the request that started it.
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		start, cancelStart := context.WithTimeout(browserCtx, 30*time.Second)
		defer cancelStart()
		stop := context.AfterFunc(ctx, cancelStart)
		defer stop()
		if err := chromedp.Run(start); err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("start browser: %w", err)
		}

		return &chromeBrowser{ctx: browserCtx, cancel: browserCancel, allocCancel: allocCancel}, nil
	}
}

type chromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

func (b *chromeBrowser) NewPage(ctx context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	p := &chromePage{ctx: tabCtx, cancel: cancel}
	if err := p.run(ctx, actionTimeout); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return p, nil
}

func (b *chromeBrowser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	return err
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab, bounded by timeout and by ctx.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	var loaded bool
	return p.run(ctx, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// 近似 network idle：等待 load 完成后再静置一段时间
		chromedp.Poll(`document.readyState === "complete"`, &loaded, chromedp.WithPollingInterval(100*time.Millisecond)),
		chromedp.Sleep(networkIdlePause),
	)
}

func (p *chromePage) Exists(ctx context.Context, selector string) (bool, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var found bool
	err = p.run(ctx, actionTimeout,
		chromedp.Evaluate(fmt.Sprintf("document.querySelector(%s) !== null", quoted), &found),
	)
	return found, err
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, actionTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) Type(ctx context.Context, selector, value string) error {
	return p.run(ctx, actionTimeout, chromedp.SendKeys(selector, value, chromedp.ByQuery))
}

func (p *chromePage) Select(ctx context.Context, selector, value string) error {
	return p.run(ctx, actionTimeout, chromedp.SetValue(selector, value, chromedp.ByQuery))
}

func (p *chromePage) Content(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, actionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, actionTimeout, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	return err
}
