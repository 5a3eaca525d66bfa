package unsubscribe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inboxtriage/internal/config"
	"inboxtriage/internal/model"
)

type fakePage struct {
	panicOn   string
	navErr    error
	present   map[string]bool
	clickErr  map[string]error
	content   string
	performed []string
	closed    bool
}

func (p *fakePage) Navigate(context.Context, string, time.Duration) error { return p.navErr }

func (p *fakePage) Exists(_ context.Context, selector string) (bool, error) {
	return p.present[selector], nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	if err := p.clickErr[selector]; err != nil {
		return err
	}
	p.performed = append(p.performed, "click "+selector)
	return nil
}

func (p *fakePage) Type(_ context.Context, selector, value string) error {
	p.performed = append(p.performed, "type "+selector+"="+value)
	return nil
}

func (p *fakePage) Select(_ context.Context, selector, value string) error {
	p.performed = append(p.performed, "select "+selector+"="+value)
	return nil
}

func (p *fakePage) Content(context.Context) (string, error) {
	if p.panicOn == "content" {
		panic("renderer crashed")
	}
	return p.content, nil
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }

func (p *fakePage) Close() error {
	p.closed = true
	return nil
}

type fakeBrowser struct {
	mu     sync.Mutex
	pages  []*fakePage
	next   func() *fakePage
	closed bool
}

func (b *fakeBrowser) NewPage(context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.next()
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *fakeBrowser) Close() error {
	b.closed = true
	return nil
}

func newTestAgent(browser *fakeBrowser, launches *int) *Agent {
	a := NewAgent(func(context.Context) (Browser, error) {
		*launches++
		return browser, nil
	}, config.BrowserConfig{NavigationTimeout: time.Second}, zap.NewNop())
	a.sleep = func(context.Context, time.Duration) {}
	return a
}

func TestExecute_NavigationTimeout(t *testing.T) {
	browser := &fakeBrowser{next: func() *fakePage {
		return &fakePage{navErr: context.DeadlineExceeded}
	}}
	var launches int
	a := newTestAgent(browser, &launches)

	res := a.Execute(context.Background(), "https://slow.example/u", "")

	assert.False(t, res.Success)
	require.NotEmpty(t, res.Steps)
	assert.Contains(t, res.Steps[len(res.Steps)-1], "Navigation failed")
	assert.True(t, browser.pages[0].closed, "page is closed on failure")
	assert.False(t, browser.closed, "shared browser stays open")
}

func TestExecute_RecoversFromPagePanic(t *testing.T) {
	browser := &fakeBrowser{next: func() *fakePage {
		return &fakePage{panicOn: "content"}
	}}
	var launches int
	a := newTestAgent(browser, &launches)

	var res *model.UnsubscribeResult
	require.NotPanics(t, func() {
		res = a.Execute(context.Background(), "https://list.example/u", "")
	})

	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Steps[len(res.Steps)-1], "Automation panicked: renderer crashed")
	assert.True(t, browser.pages[0].closed, "page is closed after a panic")
}

func TestExecute_ClicksFillsAndVerifies(t *testing.T) {
	browser := &fakeBrowser{next: func() *fakePage {
		return &fakePage{
			present: map[string]bool{
				`a[href*="unsubscribe"]`: true,
				`.unsubscribe`:           true,
				`input[type="email"]`:    true,
				`button[type="submit"]`:  true,
			},
			clickErr: map[string]error{`.unsubscribe`: errors.New("not clickable")},
			content:  "<html><body><h1>You have been Unsubscribed</h1></body></html>",
		}
	}}
	var launches int
	a := newTestAgent(browser, &launches)

	res := a.Execute(context.Background(), "https://list.example/u", "Sent to jane.doe@example.com by the list")

	assert.True(t, res.Success)
	assert.Equal(t, "Unsubscribe completed successfully", res.Message)
	assert.Len(t, res.Screenshots, 2)
	assert.Equal(t, []string{
		`click a[href*="unsubscribe"]`,
		`type input[type="email"]=jane.doe@example.com`,
		`click button[type="submit"]`,
	}, browser.pages[0].performed)
	assert.Contains(t, res.Steps, `Failed to click .unsubscribe: not clickable`)
	assert.True(t, browser.pages[0].closed)
}

func TestExecute_NoSuccessPhrase(t *testing.T) {
	browser := &fakeBrowser{next: func() *fakePage {
		return &fakePage{content: "<p>Manage your preferences</p>"}
	}}
	var launches int
	a := newTestAgent(browser, &launches)

	res := a.Execute(context.Background(), "https://list.example/u", "")
	assert.False(t, res.Success)
	assert.Equal(t, "Unsubscribe may not have completed successfully", res.Message)
}

func TestExecute_SharesOneBrowser(t *testing.T) {
	browser := &fakeBrowser{next: func() *fakePage { return &fakePage{content: "thank you"} }}
	var launches int
	a := newTestAgent(browser, &launches)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Execute(context.Background(), "https://list.example/u", "")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, launches)
	assert.Len(t, browser.pages, 4)

	require.NoError(t, a.Shutdown())
	assert.True(t, browser.closed)
	assert.False(t, a.Execute(context.Background(), "https://list.example/u", "").Success)
}

func TestExecute_LaunchFailure(t *testing.T) {
	a := NewAgent(func(context.Context) (Browser, error) {
		return nil, errors.New("chrome not found")
	}, config.BrowserConfig{}, zap.NewNop())

	res := a.Execute(context.Background(), "https://list.example/u", "")
	assert.False(t, res.Success)
	assert.Contains(t, res.Steps[len(res.Steps)-1], "chrome not found")
}

func TestFindActionableElements_SkipsFillWithoutAddress(t *testing.T) {
	a := NewAgent(nil, config.BrowserConfig{}, zap.NewNop())
	page := &fakePage{present: map[string]bool{`input[name*="email"]`: true, `#unsubscribe`: true}}

	actions := a.FindActionableElements(context.Background(), page, "no address here")

	assert.Equal(t, []model.UnsubscribeAction{{Type: model.ActionClick, Selector: `#unsubscribe`}}, actions)
}

func TestPageIndicatesSuccess(t *testing.T) {
	assert.True(t, pageIndicatesSuccess("<div>Thank You!</div>"))
	assert.False(t, pageIndicatesSuccess(`<a href="/removed">link</a>`))
}
