package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inboxtriage/contracts/mq"
	"inboxtriage/internal/config"
	"inboxtriage/internal/gmail"
	"inboxtriage/internal/model"
	"inboxtriage/pkg/util"
)

type fakeMailbox struct {
	mu       sync.Mutex
	pages    [][]*model.Envelope
	listErr  error
	failPage string
	sizes    []int64
	archived []string
	refresh  *model.TokenSet
	refErr   error
}

func (f *fakeMailbox) ListMessages(_ context.Context, _ gmail.Credential, _ string, maxResults int64, pageToken string) (*gmail.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.failPage != "" && pageToken == f.failPage {
		return nil, errors.New("backend unavailable")
	}
	f.sizes = append(f.sizes, maxResults)
	idx := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "p%d", &idx)
	}
	if idx >= len(f.pages) {
		return &gmail.ListResult{}, nil
	}
	page := f.pages[idx]
	if int64(len(page)) > maxResults {
		page = page[:maxResults]
	}
	res := &gmail.ListResult{Messages: page, Listed: len(page)}
	if idx+1 < len(f.pages) {
		res.NextPageToken = fmt.Sprintf("p%d", idx+1)
	}
	return res, nil
}

func (f *fakeMailbox) ArchiveMessage(_ context.Context, _ gmail.Credential, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, id)
	return nil
}

func (f *fakeMailbox) RefreshToken(context.Context, string) (*model.TokenSet, error) {
	return f.refresh, f.refErr
}

type fakeClassifier struct {
	failFor  map[string]bool
	panicFor string
	mu       sync.Mutex
	inputs   []string
}

func (f *fakeClassifier) Categorize(_ context.Context, content string, refs []model.CategoryRef) (*model.ClassificationResult, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, content)
	f.mu.Unlock()
	if f.panicFor != "" && strings.HasPrefix(content, f.panicFor) {
		panic("nil category table")
	}
	for subject := range f.failFor {
		if len(content) >= len(subject) && content[:len(subject)] == subject {
			return nil, errors.New("oracle exploded")
		}
	}
	id := refs[0].ID
	return &model.ClassificationResult{CategoryID: &id, Confidence: 0.9, Summary: "summary"}, nil
}

type memEmails struct {
	mu   sync.Mutex
	rows map[string]*model.Email
	next int
}

func newMemEmails() *memEmails { return &memEmails{rows: map[string]*model.Email{}} }

func (m *memEmails) ExistsByGmailID(_ context.Context, userID int, gmailID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[fmt.Sprintf("%d/%s", userID, gmailID)]
	return ok, nil
}

func (m *memEmails) Create(_ context.Context, e *model.Email) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d/%s", e.UserID, e.GmailID)
	if _, ok := m.rows[key]; ok {
		return false, nil
	}
	m.next++
	e.ID = m.next
	m.rows[key] = e
	return true, nil
}

type staticCategories []model.Category

func (c staticCategories) ListByUser(context.Context, int) ([]model.Category, error) { return c, nil }

type memTokens struct {
	access, refresh string
	expiry          time.Time
}

func (m *memTokens) UpdateTokens(_ context.Context, _ int, access, refresh string, expiry time.Time) error {
	m.access, m.refresh, m.expiry = access, refresh, expiry
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func envelope(id, subject string) *model.Envelope {
	env := &model.Envelope{
		ID:           id,
		ThreadID:     "t-" + id,
		InternalDate: 1700000000000,
		Body:         base64.URLEncoding.EncodeToString([]byte("Body text long enough for the classifier")),
	}
	if subject != "" {
		env.Headers = []model.Header{{Name: "Subject", Value: subject}, {Name: "From", Value: "x@example.com"}}
	}
	return env
}

type fixture struct {
	svc        *Service
	mailbox    *fakeMailbox
	classifier *fakeClassifier
	emails     *memEmails
	tokens     *memTokens
	publisher  *recordingPublisher
	pauses     int
}

func newFixture(t *testing.T, cats staticCategories, pages ...[]*model.Envelope) *fixture {
	t.Helper()
	f := &fixture{
		mailbox:    &fakeMailbox{pages: pages},
		classifier: &fakeClassifier{failFor: map[string]bool{}},
		emails:     newMemEmails(),
		tokens:     &memTokens{},
		publisher:  &recordingPublisher{},
	}
	cfg := config.SyncConfig{BatchSize: 5, BatchPause: time.Second, PageSize: 100}
	f.svc = NewService(f.mailbox, f.classifier, f.emails, cats, f.tokens,
		util.NewSyncLock(nil, time.Minute, zap.NewNop()), f.publisher, cfg, zap.NewNop())
	f.svc.pause = func(context.Context, time.Duration) error {
		f.pauses++
		return nil
	}
	return f
}

var defaultCats = staticCategories{{ID: 7, Name: "Work", Description: "work mail"}}

var user = &model.User{ID: 1, AccessToken: "a", RefreshToken: "r"}

func TestSync_IsIdempotent(t *testing.T) {
	f := newFixture(t, defaultCats, []*model.Envelope{envelope("m1", "one"), envelope("m2", "two")})

	first, err := f.svc.Sync(context.Background(), user, "is:unread", 20, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Processed)
	assert.Equal(t, 2, first.TotalFound)

	second, err := f.svc.Sync(context.Background(), user, "is:unread", 20, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 2, second.Skipped)
	assert.Len(t, f.emails.rows, 2)
	assert.ElementsMatch(t, []string{"m1", "m2"}, f.mailbox.archived)
}

func TestSync_BatchErrorIsolation(t *testing.T) {
	var envs []*model.Envelope
	for i := 1; i <= 5; i++ {
		envs = append(envs, envelope(fmt.Sprintf("m%d", i), fmt.Sprintf("subject %d", i)))
	}
	f := newFixture(t, defaultCats, envs)
	f.classifier.failFor["subject 3"] = true

	res, err := f.svc.Sync(context.Background(), user, "", 20, TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 1, res.Errors)
	require.Len(t, res.ErrorDetails, 1)
	assert.Equal(t, "m3", res.ErrorDetails[0].ID)
	assert.NotContains(t, f.mailbox.archived, "m3")
	assert.Equal(t, 0, f.pauses, "no pause after the last batch")
}

func TestSync_SkipsEmptySubject(t *testing.T) {
	f := newFixture(t, defaultCats, []*model.Envelope{envelope("m1", ""), envelope("m2", "kept")})

	res, err := f.svc.Sync(context.Background(), user, "", 20, TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Errors)
	_, stored := f.emails.rows["1/m1"]
	assert.False(t, stored)
}

func TestSync_RequiresCategories(t *testing.T) {
	f := newFixture(t, nil, []*model.Envelope{envelope("m1", "one")})

	_, err := f.svc.Sync(context.Background(), user, "", 20, TriggerManual)
	assert.ErrorIs(t, err, ErrNoCategories)
	assert.Empty(t, f.mailbox.sizes, "mailbox is not touched")
}

func TestSync_ListFailureAborts(t *testing.T) {
	f := newFixture(t, defaultCats)
	f.mailbox.listErr = gmail.ErrNotConnected

	_, err := f.svc.Sync(context.Background(), user, "", 20, TriggerManual)
	assert.ErrorIs(t, err, gmail.ErrNotConnected)
}

func TestSync_PagesAndBatches(t *testing.T) {
	var page1, page2 []*model.Envelope
	for i := 0; i < 8; i++ {
		page1 = append(page1, envelope(fmt.Sprintf("a%d", i), "s"))
		page2 = append(page2, envelope(fmt.Sprintf("b%d", i), "s"))
	}
	f := newFixture(t, defaultCats, page1, page2)
	f.svc.cfg.PageSize = 8

	res, err := f.svc.Sync(context.Background(), user, "", 12, TriggerScheduler)
	require.NoError(t, err)

	assert.Equal(t, []int64{8, 4}, f.mailbox.sizes)
	assert.Equal(t, 12, res.Processed)
	assert.Equal(t, 2, f.pauses, "three batches, two pauses")
}

func TestSync_LaterPageFailureKeepsCollected(t *testing.T) {
	f := newFixture(t, defaultCats,
		[]*model.Envelope{envelope("a1", "one"), envelope("a2", "two")},
		[]*model.Envelope{envelope("b1", "three")},
	)
	f.mailbox.failPage = "p1"

	res, err := f.svc.Sync(context.Background(), user, "", 20, TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, 2, res.TotalFound)
	assert.Equal(t, 2, res.Processed)
	assert.ElementsMatch(t, []string{"a1", "a2"}, f.mailbox.archived)
}

func TestSync_FirstPageFailureKeepsNothing(t *testing.T) {
	f := newFixture(t, defaultCats, []*model.Envelope{envelope("a1", "one")})
	f.mailbox.listErr = errors.New("backend unavailable")

	res, err := f.svc.Sync(context.Background(), user, "", 20, TriggerManual)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Empty(t, f.mailbox.archived)
}

// batchRecorder blocks every call of the first batch until the whole batch
// has started, and records a global sequence number at start and end.
type batchRecorder struct {
	batchSize int
	seq       atomic.Int64
	started   atomic.Int64
	allIn     chan struct{}
	stalled   atomic.Bool

	mu     sync.Mutex
	starts map[string]int64
	ends   map[string]int64
}

func newBatchRecorder(batchSize int) *batchRecorder {
	return &batchRecorder{
		batchSize: batchSize,
		allIn:     make(chan struct{}),
		starts:    map[string]int64{},
		ends:      map[string]int64{},
	}
}

func (b *batchRecorder) Categorize(_ context.Context, content string, refs []model.CategoryRef) (*model.ClassificationResult, error) {
	subject, _, _ := strings.Cut(content, "\n")
	b.mu.Lock()
	b.starts[subject] = b.seq.Add(1)
	b.mu.Unlock()

	n := b.started.Add(1)
	if n == int64(b.batchSize) {
		close(b.allIn)
	}
	if n <= int64(b.batchSize) {
		select {
		case <-b.allIn:
		case <-time.After(2 * time.Second):
			b.stalled.Store(true)
		}
	}

	b.mu.Lock()
	b.ends[subject] = b.seq.Add(1)
	b.mu.Unlock()
	id := refs[0].ID
	return &model.ClassificationResult{CategoryID: &id, Confidence: 0.9}, nil
}

func TestSync_BatchesRunConcurrentlyAndInOrder(t *testing.T) {
	var envs []*model.Envelope
	for i := 0; i < 5; i++ {
		envs = append(envs, envelope(fmt.Sprintf("a%d", i), fmt.Sprintf("first-%d", i)))
	}
	for i := 0; i < 3; i++ {
		envs = append(envs, envelope(fmt.Sprintf("b%d", i), fmt.Sprintf("second-%d", i)))
	}
	f := newFixture(t, defaultCats, envs)
	rec := newBatchRecorder(5)
	f.svc.classifier = rec

	res, err := f.svc.Sync(context.Background(), user, "", 20, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Processed)
	assert.False(t, rec.stalled.Load(), "first batch calls must overlap")
	assert.Equal(t, 1, f.pauses)

	var lastFirstEnd, firstSecondStart int64 = 0, 1 << 62
	for subject, end := range rec.ends {
		if strings.HasPrefix(subject, "first-") {
			lastFirstEnd = max(lastFirstEnd, end)
		}
	}
	for subject, start := range rec.starts {
		if strings.HasPrefix(subject, "second-") {
			firstSecondStart = min(firstSecondStart, start)
		}
	}
	assert.Len(t, rec.starts, 8)
	assert.Less(t, lastFirstEnd, firstSecondStart, "second batch started before first batch finished")
}

func TestSync_PanicIsPerMessageFailure(t *testing.T) {
	f := newFixture(t, defaultCats, []*model.Envelope{
		envelope("m1", "fine"), envelope("m2", "boom"), envelope("m3", "also fine"),
	})
	f.classifier.panicFor = "boom"

	var res *model.SyncResult
	require.NotPanics(t, func() {
		var err error
		res, err = f.svc.Sync(context.Background(), user, "", 20, TriggerManual)
		require.NoError(t, err)
	})

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Errors)
	require.Len(t, res.ErrorDetails, 1)
	assert.Equal(t, "m2", res.ErrorDetails[0].ID)
	assert.Contains(t, res.ErrorDetails[0].Error, "panic: nil category table")
	assert.NotContains(t, f.mailbox.archived, "m2")
}

func TestSync_LockHeld(t *testing.T) {
	f := newFixture(t, defaultCats)
	release, ok := f.svc.locker.Acquire(context.Background(), "sync:user:1")
	require.True(t, ok)
	defer release()

	_, err := f.svc.Sync(context.Background(), user, "", 20, TriggerManual)
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestSync_PublishesEvents(t *testing.T) {
	f := newFixture(t, defaultCats, []*model.Envelope{envelope("m1", "one")})

	_, err := f.svc.Sync(context.Background(), user, "", 20, TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, []string{mq.RoutingEmailIngested, mq.RoutingSyncCompleted}, f.publisher.keys)
}

func TestClassificationInput(t *testing.T) {
	assert.Equal(t, "S\n\nclean text here!", classificationInput(model.ExtractedContent{Subject: "S", CleanText: "clean text here!", Body: "body body body"}))
	assert.Equal(t, "S\n\nbody body body", classificationInput(model.ExtractedContent{Subject: "S", CleanText: "short", Body: "body body body"}))
	assert.Equal(t, "S", classificationInput(model.ExtractedContent{Subject: "S", Body: "tiny"}))
}

func TestEnsureFreshToken(t *testing.T) {
	f := newFixture(t, defaultCats)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	past := now.Add(-time.Minute)
	u := &model.User{ID: 2, AccessToken: "old", RefreshToken: "r", TokenExpiry: &past}
	f.mailbox.refresh = &model.TokenSet{AccessToken: "new", Expiry: now.Add(time.Hour)}

	require.NoError(t, f.svc.EnsureFreshToken(context.Background(), u))
	assert.Equal(t, "new", u.AccessToken)
	assert.Equal(t, "r", u.RefreshToken, "unrotated refresh token is kept")
	assert.Equal(t, "new", f.tokens.access)
	assert.Equal(t, "r", f.tokens.refresh)

	future := now.Add(time.Hour)
	fresh := &model.User{ID: 3, AccessToken: "still", RefreshToken: "r", TokenExpiry: &future}
	f.mailbox.refresh = nil
	require.NoError(t, f.svc.EnsureFreshToken(context.Background(), fresh))
	assert.Equal(t, "still", fresh.AccessToken)

	expired := &model.User{ID: 4, AccessToken: "old", RefreshToken: "revoked", TokenExpiry: &past}
	f.mailbox.refErr = fmt.Errorf("%w: invalid_grant", gmail.ErrReauthRequired)
	assert.ErrorIs(t, f.svc.EnsureFreshToken(context.Background(), expired), gmail.ErrReauthRequired)
}
