package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"inboxtriage/contracts/mq"
	"inboxtriage/internal/config"
	"inboxtriage/internal/content"
	"inboxtriage/internal/gmail"
	"inboxtriage/internal/model"
	"inboxtriage/pkg/metrics"
	pkgmq "inboxtriage/pkg/mq"
	"inboxtriage/pkg/otel"
)

var (
	// ErrNoCategories means the account must configure categories before syncing.
	ErrNoCategories = errors.New("no categories configured; create categories before syncing")
	// ErrSyncInProgress means another sync holds the account's lock.
	ErrSyncInProgress = errors.New("sync already in progress for this account")
)

// Triggers recorded on metrics and events.
const (
	TriggerScheduler = "scheduler"
	TriggerManual    = "manual"
)

// Processing outcomes, also used as metric labels.
const (
	statusStored           = "stored"
	statusSkippedDuplicate = "skipped_duplicate"
	statusSkippedEmpty     = "skipped_empty"
	statusFailed           = "failed"
)

// minContentLength is the length a body must exceed to be sent to the classifier.
const minContentLength = 10

type Mailbox interface {
	ListMessages(ctx context.Context, cred gmail.Credential, query string, maxResults int64, pageToken string) (*gmail.ListResult, error)
	ArchiveMessage(ctx context.Context, cred gmail.Credential, id string) error
	RefreshToken(ctx context.Context, refreshToken string) (*model.TokenSet, error)
}

type Classifier interface {
	Categorize(ctx context.Context, content string, categories []model.CategoryRef) (*model.ClassificationResult, error)
}

type EmailStore interface {
	ExistsByGmailID(ctx context.Context, userID int, gmailID string) (bool, error)
	Create(ctx context.Context, e *model.Email) (bool, error)
}

type CategoryStore interface {
	ListByUser(ctx context.Context, userID int) ([]model.Category, error)
}

type TokenStore interface {
	UpdateTokens(ctx context.Context, userID int, accessToken, refreshToken string, expiry time.Time) error
}

type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), ok bool)
}

// Service is the ingestion pipeline: list, extract, classify, store, archive.
type Service struct {
	mailbox    Mailbox
	classifier Classifier
	emails     EmailStore
	categories CategoryStore
	tokens     TokenStore
	locker     Locker
	publisher  pkgmq.EventPublisher
	cfg        config.SyncConfig
	logger     *zap.Logger

	now   func() time.Time
	pause func(ctx context.Context, d time.Duration) error
}

func NewService(
	mailbox Mailbox,
	classifier Classifier,
	emails EmailStore,
	categories CategoryStore,
	tokens TokenStore,
	locker Locker,
	publisher pkgmq.EventPublisher,
	cfg config.SyncConfig,
	logger *zap.Logger,
) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Service{
		mailbox:    mailbox,
		classifier: classifier,
		emails:     emails,
		categories: categories,
		tokens:     tokens,
		locker:     locker,
		publisher:  pkgmq.NewLoggingPublisher(publisher, logger),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		pause:      sleepContext,
	}
}

// EnsureFreshToken refreshes u's access token when it is expired and stores the
// new pair. u is updated in place. A rejected refresh token yields gmail.ErrReauthRequired.
func (s *Service) EnsureFreshToken(ctx context.Context, u *model.User) error {
	if !u.TokenExpired(s.now()) {
		return nil
	}
	if u.RefreshToken == "" {
		return gmail.ErrReauthRequired
	}

	set, err := s.mailbox.RefreshToken(ctx, u.RefreshToken)
	if err != nil {
		return err
	}
	refresh := u.RefreshToken
	if set.RefreshToken != "" {
		refresh = set.RefreshToken
	}
	if err := s.tokens.UpdateTokens(ctx, u.ID, set.AccessToken, refresh, set.Expiry); err != nil {
		return fmt.Errorf("store refreshed token: %w", err)
	}

	expiry := set.Expiry
	u.AccessToken, u.RefreshToken, u.TokenExpiry = set.AccessToken, refresh, &expiry
	s.logger.Info("Refreshed access token", zap.Int("user_id", u.ID))
	return nil
}

// Sync ingests up to maxMessages messages matching query for one account.
// Per-message failures are reported in the result; only precondition failures
// (no categories, provider auth, lock held) return an error.
func (s *Service) Sync(ctx context.Context, u *model.User, query string, maxMessages int, trigger string) (*model.SyncResult, error) {
	release, ok := s.locker.Acquire(ctx, "sync:user:"+strconv.Itoa(u.ID))
	if !ok {
		return nil, ErrSyncInProgress
	}
	defer release()

	ctx, span := otel.StartSpan(ctx, "ingest.sync",
		attribute.Int("user_id", u.ID),
		attribute.String("trigger", trigger),
		attribute.Int("max_messages", maxMessages),
	)
	start := s.now()

	result, err := s.sync(ctx, u, query, maxMessages)

	metrics.RecordSyncDuration(trigger, time.Since(start))
	otel.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Sync completed",
		zap.Int("user_id", u.ID),
		zap.String("trigger", trigger),
		zap.Int("found", result.TotalFound),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.Errors),
	)
	_ = s.publisher.Publish(ctx, mq.RoutingSyncCompleted, mq.SyncCompletedPayload{
		UserID:    u.ID,
		Trigger:   trigger,
		Processed: result.Processed,
		Errors:    result.Errors,
		Skipped:   result.Skipped,
		Duration:  time.Since(start),
	})
	return result, nil
}

func (s *Service) sync(ctx context.Context, u *model.User, query string, maxMessages int) (*model.SyncResult, error) {
	cats, err := s.categories.ListByUser(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	if len(cats) == 0 {
		return nil, ErrNoCategories
	}
	refs := lo.Map(cats, func(c model.Category, _ int) model.CategoryRef {
		return model.CategoryRef{ID: c.ID, Name: c.Name, Description: c.Description}
	})

	cred := gmail.CredentialOf(u)
	envelopes, found, err := s.collect(ctx, cred, query, maxMessages)
	if err != nil {
		return nil, err
	}

	result := &model.SyncResult{TotalFound: found, ErrorDetails: []model.ErrorDetail{}}
	var mu sync.Mutex

	// 批内并发，批间串行
	batches := lo.Chunk(envelopes, s.cfg.BatchSize)
	for i, batch := range batches {
		g, gctx := errgroup.WithContext(ctx)
		for _, env := range batch {
			env := env
			g.Go(func() error {
				status, err := s.safeProcessMessage(gctx, u, cred, env, refs)
				metrics.IncrementEmailProcessed(status)

				mu.Lock()
				defer mu.Unlock()
				switch status {
				case statusStored:
					result.Processed++
				case statusFailed:
					result.Errors++
					result.ErrorDetails = append(result.ErrorDetails, model.ErrorDetail{ID: env.ID, Error: err.Error()})
					s.logger.Warn("Failed to process message",
						zap.Int("user_id", u.ID),
						zap.String("gmail_id", env.ID),
						zap.Error(err),
					)
				default:
					result.Skipped++
				}
				return nil
			})
		}
		_ = g.Wait()

		if i < len(batches)-1 {
			if err := s.pause(ctx, s.cfg.BatchPause); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}

// collect pages through the mailbox until maxMessages are gathered or pages run out.
// A failure on the first page aborts; a later failure keeps what was gathered.
func (s *Service) collect(ctx context.Context, cred gmail.Credential, query string, maxMessages int) ([]*model.Envelope, int, error) {
	var (
		envelopes []*model.Envelope
		found     int
		pageToken string
	)
	for len(envelopes) < maxMessages {
		size := min(s.cfg.PageSize, maxMessages-len(envelopes))
		page, err := s.mailbox.ListMessages(ctx, cred, query, int64(size), pageToken)
		if err != nil {
			if pageToken == "" {
				return nil, 0, err
			}
			s.logger.Warn("Stopped paging after list failure", zap.Error(err))
			break
		}
		found += page.Listed
		envelopes = append(envelopes, page.Messages...)
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	if len(envelopes) > maxMessages {
		envelopes = envelopes[:maxMessages]
	}
	return envelopes, found, nil
}

// safeProcessMessage turns a panic in one message into a per-message failure.
func (s *Service) safeProcessMessage(ctx context.Context, u *model.User, cred gmail.Credential, env *model.Envelope, refs []model.CategoryRef) (status string, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, err = statusFailed, fmt.Errorf("panic: %v", r)
		}
	}()
	return s.processMessage(ctx, u, cred, env, refs)
}

func (s *Service) processMessage(ctx context.Context, u *model.User, cred gmail.Credential, env *model.Envelope, refs []model.CategoryRef) (status string, err error) {
	ctx, span := otel.StartSpan(ctx, "ingest.process_message", attribute.String("gmail_id", env.ID))
	defer func() {
		span.SetAttributes(attribute.String("status", status))
		otel.EndSpan(span, err)
	}()

	exists, err := s.emails.ExistsByGmailID(ctx, u.ID, env.ID)
	if err != nil {
		return statusFailed, fmt.Errorf("dedup lookup: %w", err)
	}
	if exists {
		return statusSkippedDuplicate, nil
	}

	extracted := content.Extract(env)
	if extracted.Subject == "" {
		return statusSkippedEmpty, nil
	}

	classification, err := s.classifier.Categorize(ctx, classificationInput(extracted), refs)
	if err != nil {
		return statusFailed, fmt.Errorf("classify: %w", err)
	}

	email := &model.Email{
		UserID:          u.ID,
		CategoryID:      classification.CategoryID,
		GmailID:         env.ID,
		ThreadID:        env.ThreadID,
		Subject:         extracted.Subject,
		Sender:          extracted.Sender,
		Recipients:      extracted.Recipients,
		Body:            extracted.Body,
		HTMLBody:        extracted.HTMLBody,
		CleanText:       extracted.CleanText,
		ListUnsubscribe: extracted.ListUnsubscribe,
		AISummary:       classification.Summary,
		Confidence:      classification.Confidence,
		ReceivedAt:      receivedAt(env.InternalDate),
	}
	created, err := s.emails.Create(ctx, email)
	if err != nil {
		return statusFailed, fmt.Errorf("store: %w", err)
	}
	if !created {
		return statusSkippedDuplicate, nil
	}

	if err := s.mailbox.ArchiveMessage(ctx, cred, env.ID); err != nil {
		return statusFailed, fmt.Errorf("archive: %w", err)
	}

	// 发布事件，使用 routing key "email.ingested"
	_ = s.publisher.Publish(ctx, mq.RoutingEmailIngested, mq.EmailIngestedPayload{
		UserID:     u.ID,
		EmailID:    email.ID,
		GmailID:    env.ID,
		CategoryID: classification.CategoryID,
		Confidence: classification.Confidence,
		Fallback:   classification.Fallback,
		IngestedAt: s.now(),
	})
	return statusStored, nil
}

// classificationInput is the subject followed by the clean text, or the plain
// body when the clean text is too short.
func classificationInput(c model.ExtractedContent) string {
	input := c.Subject
	switch {
	case len(strings.TrimSpace(c.CleanText)) > minContentLength:
		input += "\n\n" + c.CleanText
	case len(strings.TrimSpace(c.Body)) > minContentLength:
		input += "\n\n" + c.Body
	}
	return input
}

func receivedAt(internalDate int64) time.Time {
	if internalDate <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(internalDate).UTC()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
