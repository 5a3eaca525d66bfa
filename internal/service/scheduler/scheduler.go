package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"inboxtriage/internal/config"
	"inboxtriage/internal/gmail"
	"inboxtriage/internal/model"
	"inboxtriage/internal/service/ingest"
	"inboxtriage/pkg/logger"
	"inboxtriage/pkg/trace"
	"inboxtriage/pkg/util"
)

type UserLister interface {
	ListWithTokens(ctx context.Context) ([]model.User, error)
}

type Syncer interface {
	EnsureFreshToken(ctx context.Context, u *model.User) error
	Sync(ctx context.Context, u *model.User, query string, maxMessages int, trigger string) (*model.SyncResult, error)
}

// Scheduler periodically syncs every account that has stored credentials.
type Scheduler struct {
	users  UserLister
	syncer Syncer
	cfg    config.SyncConfig
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(users UserLister, syncer Syncer, cfg config.SyncConfig, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	return &Scheduler{users: users, syncer: syncer, cfg: cfg, logger: logger}
}

// Start runs one tick immediately and then one per interval until Stop.
// Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Info("Sync scheduler already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("Starting sync scheduler", zap.Duration("interval", s.cfg.Interval))
	go s.loop(ctx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop cancels the loop, waits for an in-flight tick and resets run state.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("Sync scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce syncs every connected account once. A failing account never stops the others.
func (s *Scheduler) RunOnce(ctx context.Context) {
	users, err := s.users.ListWithTokens(ctx)
	if err != nil {
		s.logger.Error("Failed to list users for sync", zap.Error(err))
		return
	}

	for i := range users {
		if ctx.Err() != nil {
			return
		}
		s.syncUser(ctx, &users[i])
	}
}

func (s *Scheduler) syncUser(ctx context.Context, u *model.User) {
	ctx = trace.Ensure(ctx)
	log := logger.WithTrace(ctx, s.logger).With(zap.Int("user_id", u.ID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic during scheduled sync", zap.Any("panic", r))
		}
	}()

	if !u.HasCredentials() {
		return
	}
	if err := s.syncer.EnsureFreshToken(ctx, u); err != nil {
		if errors.Is(err, gmail.ErrReauthRequired) || util.IsAuthError(err) {
			log.Warn("Account requires reauthorization, skipping", zap.Error(err))
			return
		}
		log.Warn("Token refresh failed, skipping account", zap.Error(err))
		return
	}

	res, err := s.syncer.Sync(ctx, u, s.cfg.Query, s.cfg.MaxMessages, ingest.TriggerScheduler)
	switch {
	case errors.Is(err, ingest.ErrNoCategories):
		log.Info("No categories configured, skipping account")
	case errors.Is(err, ingest.ErrSyncInProgress):
		log.Info("Sync already in progress, skipping account")
	case util.IsRateLimited(err):
		log.Warn("Rate limited by provider, retrying next tick", zap.Error(err))
	case err != nil:
		log.Error("Scheduled sync failed", zap.Error(err))
	default:
		log.Debug("Scheduled sync finished",
			zap.Int("processed", res.Processed),
			zap.Int("errors", res.Errors),
		)
	}
}
