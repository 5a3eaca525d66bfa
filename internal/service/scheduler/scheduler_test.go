package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/googleapi"

	"inboxtriage/internal/config"
	"inboxtriage/internal/gmail"
	"inboxtriage/internal/model"
	"inboxtriage/internal/service/ingest"
)

type staticUsers []model.User

func (s staticUsers) ListWithTokens(context.Context) ([]model.User, error) {
	out := make([]model.User, len(s))
	copy(out, s)
	return out, nil
}

type fakeSyncer struct {
	mu         sync.Mutex
	refreshErr map[int]error
	syncErr    map[int]error
	panicFor   map[int]bool
	synced     []int
	calls      chan int
}

func (f *fakeSyncer) EnsureFreshToken(_ context.Context, u *model.User) error {
	return f.refreshErr[u.ID]
}

func (f *fakeSyncer) Sync(_ context.Context, u *model.User, query string, maxMessages int, trigger string) (*model.SyncResult, error) {
	if f.panicFor[u.ID] {
		panic("boom")
	}
	f.mu.Lock()
	f.synced = append(f.synced, u.ID)
	f.mu.Unlock()
	if f.calls != nil {
		f.calls <- u.ID
	}
	if err := f.syncErr[u.ID]; err != nil {
		return nil, err
	}
	return &model.SyncResult{}, nil
}

var cfg = config.SyncConfig{Interval: time.Hour, Query: "is:unread", MaxMessages: 20}

func TestRunOnce_IsolatesAccounts(t *testing.T) {
	users := staticUsers{
		{ID: 1, AccessToken: "a", RefreshToken: "r"},
		{ID: 2, AccessToken: "a", RefreshToken: "r"},
		{ID: 3, AccessToken: "a", RefreshToken: "r"},
		{ID: 4, AccessToken: "a", RefreshToken: "r"},
		{ID: 5, AccessToken: "a"},
		{ID: 6, AccessToken: "a", RefreshToken: "r"},
	}
	syncer := &fakeSyncer{
		refreshErr: map[int]error{2: errors.New("invalid_grant")},
		syncErr:    map[int]error{3: ingest.ErrNoCategories, 4: errors.New("db down")},
		panicFor:   map[int]bool{6: true},
	}
	s := New(users, syncer, cfg, zap.NewNop())

	s.RunOnce(context.Background())

	assert.Equal(t, []int{1, 3, 4}, syncer.synced)
}

func TestRunOnce_LogsOutcomePerAccount(t *testing.T) {
	users := staticUsers{
		{ID: 1, AccessToken: "a", RefreshToken: "r"},
		{ID: 2, AccessToken: "a", RefreshToken: "r"},
		{ID: 3, AccessToken: "a", RefreshToken: "r"},
		{ID: 4, AccessToken: "a", RefreshToken: "r"},
	}
	syncer := &fakeSyncer{
		refreshErr: map[int]error{
			1: fmt.Errorf("%w: invalid_grant", gmail.ErrReauthRequired),
			2: &googleapi.Error{Code: http.StatusUnauthorized},
			3: errors.New("connection reset"),
		},
		syncErr: map[int]error{4: &googleapi.Error{Code: http.StatusTooManyRequests}},
	}
	core, logs := observer.New(zapcore.DebugLevel)
	s := New(users, syncer, cfg, zap.New(core))

	s.RunOnce(context.Background())

	messages := map[int64]string{}
	traceIDs := map[string]bool{}
	for _, entry := range logs.All() {
		fields := entry.ContextMap()
		id, ok := fields["user_id"].(int64)
		if !ok {
			continue
		}
		messages[id] = entry.Message
		traceID, _ := fields["trace_id"].(string)
		require.NotEmpty(t, traceID, "entry %q has no trace_id", entry.Message)
		traceIDs[traceID] = true
	}

	assert.Equal(t, "Account requires reauthorization, skipping", messages[1])
	assert.Equal(t, "Account requires reauthorization, skipping", messages[2])
	assert.Equal(t, "Token refresh failed, skipping account", messages[3])
	assert.Equal(t, "Rate limited by provider, retrying next tick", messages[4])
	assert.Len(t, traceIDs, 4, "each account sync gets its own trace")
	assert.Equal(t, []int{4}, syncer.synced)
}

func TestStartStop(t *testing.T) {
	syncer := &fakeSyncer{calls: make(chan int, 10)}
	s := New(staticUsers{{ID: 1, AccessToken: "a", RefreshToken: "r"}}, syncer, cfg, zap.NewNop())

	s.Start(context.Background())
	s.Start(context.Background())
	assert.True(t, s.IsRunning())

	select {
	case id := <-syncer.calls:
		assert.Equal(t, 1, id)
	case <-time.After(2 * time.Second):
		t.Fatal("first tick did not run at start")
	}

	s.Stop()
	assert.False(t, s.IsRunning())
	assert.Len(t, syncer.calls, 0, "starting twice does not run a second loop")

	s.Stop()
	s.Start(context.Background())
	require.True(t, s.IsRunning())
	s.Stop()
}
