package unsubscribe

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jaytaylor/html2text"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"inboxtriage/internal/config"
	"inboxtriage/internal/model"
	"inboxtriage/pkg/otel"
)

// Browser is a shared browser process that hands out independent pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one browser tab.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Exists(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, value string) error
	Select(ctx context.Context, selector, value string) error
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Launcher starts the shared browser.
type Launcher func(ctx context.Context) (Browser, error)

var (
	clickSelectors = []string{
		`a[href*="unsubscribe"]`,
		`button[onclick*="unsubscribe"]`,
		`input[value*="unsubscribe"]`,
		`.unsubscribe`,
		`#unsubscribe`,
		`[data-action="unsubscribe"]`,
	}
	emailFieldSelectors = []string{
		`input[type="email"]`,
		`input[name*="email"]`,
		`input[id*="email"]`,
		`input[placeholder*="email"]`,
	}
	confirmSelectors = []string{
		`input[type="submit"]`,
		`button[type="submit"]`,
	}
	successIndicators = []string{"unsubscribed", "successfully", "confirmed", "removed", "cancelled", "thank you"}

	addressPattern = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)
)

const (
	clickPause  = time.Second
	fillPause   = 500 * time.Millisecond
	selectPause = 500 * time.Millisecond
	waitPause   = 2 * time.Second
	settlePause = 2 * time.Second
)

var errBrowserClosed = errors.New("browser has been shut down")

// Agent drives a headless browser through an unsubscribe page. The browser is
// started on first use and shared; every Execute gets its own page.
type Agent struct {
	launch     Launcher
	navTimeout time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	browser Browser
	closed  bool

	sleep func(ctx context.Context, d time.Duration)
}

func NewAgent(launch Launcher, cfg config.BrowserConfig, logger *zap.Logger) *Agent {
	timeout := cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Agent{
		launch:     launch,
		navTimeout: timeout,
		logger:     logger,
		sleep:      pause,
	}
}

// Execute attempts to unsubscribe at url. It never returns an error: every
// failure ends up as a step in a result with Success false.
func (a *Agent) Execute(ctx context.Context, url, emailContent string) (res *model.UnsubscribeResult) {
	ctx, span := otel.StartSpan(ctx, "unsubscribe.execute", attribute.String("url", url))
	defer span.End()

	result := &model.UnsubscribeResult{Steps: []string{}, Screenshots: []string{}}
	fail := func(step string, err error) *model.UnsubscribeResult {
		result.Steps = append(result.Steps, fmt.Sprintf("%s: %v", step, err))
		result.Success = false
		result.Message = fmt.Sprintf("Automation failed: %v", err)
		span.SetAttributes(attribute.Bool("success", false))
		a.logger.Warn("Unsubscribe automation failed", zap.String("url", url), zap.String("step", step), zap.Error(err))
		return result
	}
	// A misbehaving Page must not crash the caller.
	defer func() {
		if r := recover(); r != nil {
			res = fail("Automation panicked", fmt.Errorf("%v", r))
		}
	}()

	browser, err := a.sharedBrowser(ctx)
	if err != nil {
		return fail("Browser launch failed", err)
	}
	page, err := browser.NewPage(ctx)
	if err != nil {
		return fail("Failed to open page", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			a.logger.Debug("Failed to close page", zap.Error(err))
		}
	}()

	result.Steps = append(result.Steps, "Navigating to unsubscribe URL: "+url)
	if err := page.Navigate(ctx, url, a.navTimeout); err != nil {
		return fail("Navigation failed", err)
	}
	a.capture(ctx, page, result)
	result.Steps = append(result.Steps, "Loaded unsubscribe page")

	actions := a.FindActionableElements(ctx, page, emailContent)
	result.Steps = append(result.Steps, fmt.Sprintf("Identified %d actions to perform", len(actions)))

	for _, action := range actions {
		if err := a.perform(ctx, page, action); err != nil {
			result.Steps = append(result.Steps, fmt.Sprintf("Failed to %s: %v", describe(action), err))
			continue
		}
		result.Steps = append(result.Steps, "Done: "+describe(action))
	}

	a.sleep(ctx, settlePause)
	a.capture(ctx, page, result)

	html, err := page.Content(ctx)
	if err != nil {
		return fail("Failed to read final page", err)
	}
	result.Success = pageIndicatesSuccess(html)
	if result.Success {
		result.Message = "Unsubscribe completed successfully"
	} else {
		result.Message = "Unsubscribe may not have completed successfully"
	}
	span.SetAttributes(attribute.Bool("success", result.Success))
	return result
}

// FindActionableElements scans page for unsubscribe controls, email inputs
// and submit buttons, in that order. Email inputs are filled with the first
// address found in emailContent and skipped when there is none.
func (a *Agent) FindActionableElements(ctx context.Context, page Page, emailContent string) []model.UnsubscribeAction {
	var actions []model.UnsubscribeAction

	for _, sel := range clickSelectors {
		if a.exists(ctx, page, sel) {
			actions = append(actions, model.UnsubscribeAction{Type: model.ActionClick, Selector: sel})
		}
	}

	if addr := addressPattern.FindString(emailContent); addr != "" {
		for _, sel := range emailFieldSelectors {
			if a.exists(ctx, page, sel) {
				actions = append(actions, model.UnsubscribeAction{Type: model.ActionFill, Selector: sel, Value: addr})
			}
		}
	}

	for _, sel := range confirmSelectors {
		if a.exists(ctx, page, sel) {
			actions = append(actions, model.UnsubscribeAction{Type: model.ActionClick, Selector: sel})
		}
	}
	return actions
}

func (a *Agent) exists(ctx context.Context, page Page, selector string) bool {
	ok, err := page.Exists(ctx, selector)
	if err != nil {
		a.logger.Debug("Selector lookup failed", zap.String("selector", selector), zap.Error(err))
		return false
	}
	return ok
}

func (a *Agent) perform(ctx context.Context, page Page, action model.UnsubscribeAction) error {
	switch action.Type {
	case model.ActionClick:
		if err := page.Click(ctx, action.Selector); err != nil {
			return err
		}
		a.sleep(ctx, clickPause)
	case model.ActionFill:
		if err := page.Type(ctx, action.Selector, action.Value); err != nil {
			return err
		}
		a.sleep(ctx, fillPause)
	case model.ActionSelect:
		if err := page.Select(ctx, action.Selector, action.Value); err != nil {
			return err
		}
		a.sleep(ctx, selectPause)
	case model.ActionWait:
		a.sleep(ctx, waitPause)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
	return nil
}

func (a *Agent) capture(ctx context.Context, page Page, result *model.UnsubscribeResult) {
	shot, err := page.Screenshot(ctx)
	if err != nil {
		a.logger.Debug("Screenshot failed", zap.Error(err))
		return
	}
	result.Screenshots = append(result.Screenshots, base64.StdEncoding.EncodeToString(shot))
}

func (a *Agent) sharedBrowser(ctx context.Context) (Browser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, errBrowserClosed
	}
	if a.browser != nil {
		return a.browser, nil
	}
	b, err := a.launch(ctx)
	if err != nil {
		return nil, err
	}
	a.browser = b
	a.logger.Info("Headless browser started")
	return b, nil
}

// Shutdown closes the shared browser. Later Execute calls fail.
func (a *Agent) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.browser == nil {
		return nil
	}
	err := a.browser.Close()
	a.browser = nil
	return err
}

func describe(action model.UnsubscribeAction) string {
	switch action.Type {
	case model.ActionClick:
		return "click " + action.Selector
	case model.ActionFill:
		return fmt.Sprintf("fill %s with %s", action.Selector, action.Value)
	case model.ActionSelect:
		return fmt.Sprintf("select %s in %s", action.Value, action.Selector)
	default:
		return string(action.Type)
	}
}

// pageIndicatesSuccess looks for a success phrase in the page's visible text.
func pageIndicatesSuccess(html string) bool {
	text, err := html2text.FromString(html, html2text.Options{OmitLinks: true})
	if err != nil {
		text = html
	}
	text = strings.ToLower(text)
	for _, indicator := range successIndicators {
		if strings.Contains(text, indicator) {
			return true
		}
	}
	return false
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
