package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"inboxtriage/contracts/mq"
	"inboxtriage/internal/content"
	"inboxtriage/internal/gmail"
	"inboxtriage/internal/model"
	"inboxtriage/internal/repository"
	"inboxtriage/pkg/metrics"
	pkgmq "inboxtriage/pkg/mq"
	"inboxtriage/pkg/otel"
)

var (
	ErrNotFound          = errors.New("email not found")
	ErrInvalidAction     = errors.New("invalid bulk action")
	ErrNoIDs             = errors.New("no email ids given")
	ErrCategoryForbidden = errors.New("category belongs to another account")
)

// Bulk actions.
const (
	ActionDelete      = "delete"
	ActionMarkRead    = "mark_read"
	ActionMarkUnread  = "mark_unread"
	ActionUnsubscribe = "unsubscribe"
)

const noUnsubscribeFound = "No unsubscribe link found"

type Store interface {
	FindByID(ctx context.Context, userID, id int) (*model.Email, error)
	FindByIDs(ctx context.Context, userID int, ids []int) ([]model.Email, error)
	ListByUser(ctx context.Context, userID int, f model.EmailFilter) ([]model.Email, error)
	ListForCleaning(ctx context.Context, userID int) ([]model.Email, error)
	SetRead(ctx context.Context, userID, id int, read bool) error
	SetReadMany(ctx context.Context, userID int, ids []int, read bool) (int64, error)
	SetCategory(ctx context.Context, userID, id int, categoryID *int) error
	UpdateCleanText(ctx context.Context, userID, id int, cleanText string) error
	Delete(ctx context.Context, userID, id int) error
	DeleteMany(ctx context.Context, userID int, ids []int) (int64, error)
	DeleteAllByUser(ctx context.Context, userID int) (int64, error)
}

type CategoryLookup interface {
	FindByID(ctx context.Context, id int) (*model.Category, error)
}

type UserLookup interface {
	FindByID(ctx context.Context, id int) (*model.User, error)
}

type Mailbox interface {
	MarkAsRead(ctx context.Context, cred gmail.Credential, id string) error
	MarkAsUnread(ctx context.Context, cred gmail.Credential, id string) error
	DeleteMessage(ctx context.Context, cred gmail.Credential, id string) error
}

type Extractor interface {
	Extract(ctx context.Context, content, listUnsubscribe string) model.UnsubscribeInfo
}

type Agent interface {
	Execute(ctx context.Context, url, emailContent string) *model.UnsubscribeResult
}

// BulkResult reports a bulk action.
type BulkResult struct {
	Action      string                        `json:"action"`
	Affected    int                           `json:"affected"`
	Unsubscribe []model.BulkUnsubscribeResult `json:"unsubscribe,omitempty"`
}

// Service implements mailbox operations over stored mail. Provider-side
// mirroring (labels, trash) is best effort and never fails a request.
type Service struct {
	store      Store
	categories CategoryLookup
	users      UserLookup
	mailbox    Mailbox
	extractor  Extractor
	agent      Agent
	publisher  pkgmq.EventPublisher
	logger     *zap.Logger
}

func NewService(
	store Store,
	categories CategoryLookup,
	users UserLookup,
	mailbox Mailbox,
	extractor Extractor,
	agent Agent,
	publisher pkgmq.EventPublisher,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:      store,
		categories: categories,
		users:      users,
		mailbox:    mailbox,
		extractor:  extractor,
		agent:      agent,
		publisher:  pkgmq.NewLoggingPublisher(publisher, logger),
		logger:     logger,
	}
}

func (s *Service) List(ctx context.Context, userID int, f model.EmailFilter) ([]model.Email, error) {
	return s.store.ListByUser(ctx, userID, f)
}

func (s *Service) Get(ctx context.Context, userID, id int) (*model.Email, error) {
	e, err := s.store.FindByID(ctx, userID, id)
	return e, notFound(err)
}

// SetRead updates the read flag and mirrors it to the provider.
func (s *Service) SetRead(ctx context.Context, userID, id int, read bool) error {
	e, err := s.store.FindByID(ctx, userID, id)
	if err != nil {
		return notFound(err)
	}
	if err := s.store.SetRead(ctx, userID, id, read); err != nil {
		return notFound(err)
	}
	s.mirrorRead(ctx, userID, []model.Email{*e}, read)
	return nil
}

// SetCategory reassigns an email. A nil categoryID makes it uncategorized.
func (s *Service) SetCategory(ctx context.Context, userID, id int, categoryID *int) error {
	if categoryID != nil {
		c, err := s.categories.FindByID(ctx, *categoryID)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("category %d: %w", *categoryID, repository.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if c.UserID != userID {
			return ErrCategoryForbidden
		}
	}
	return notFound(s.store.SetCategory(ctx, userID, id, categoryID))
}

// Delete removes the email locally and moves it to trash at the provider.
func (s *Service) Delete(ctx context.Context, userID, id int) error {
	e, err := s.store.FindByID(ctx, userID, id)
	if err != nil {
		return notFound(err)
	}
	s.trash(ctx, userID, []model.Email{*e})
	return notFound(s.store.Delete(ctx, userID, id))
}

// ClearAll deletes every stored email of the account. Provider mail is untouched.
func (s *Service) ClearAll(ctx context.Context, userID int) (int64, error) {
	n, err := s.store.DeleteAllByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Cleared all emails", zap.Int("user_id", userID), zap.Int64("deleted", n))
	return n, nil
}

// Clean recomputes clean_text from stored HTML bodies and returns how many changed.
func (s *Service) Clean(ctx context.Context, userID int) (int, error) {
	emails, err := s.store.ListForCleaning(ctx, userID)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, e := range emails {
		clean := content.CleanHTML(e.HTMLBody)
		if clean == e.CleanText {
			continue
		}
		if err := s.store.UpdateCleanText(ctx, userID, e.ID, clean); err != nil {
			s.logger.Warn("Failed to update clean text", zap.Int("email_id", e.ID), zap.Error(err))
			continue
		}
		updated++
	}
	return updated, nil
}

// Bulk applies action to the account's emails among ids. Ids of other
// accounts or unknown ids are ignored.
func (s *Service) Bulk(ctx context.Context, userID int, action string, ids []int) (*BulkResult, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return nil, ErrNoIDs
	}
	if !lo.Contains([]string{ActionDelete, ActionMarkRead, ActionMarkUnread, ActionUnsubscribe}, action) {
		return nil, ErrInvalidAction
	}

	emails, err := s.store.FindByIDs(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	owned := lo.Map(emails, func(e model.Email, _ int) int { return e.ID })
	result := &BulkResult{Action: action}

	switch action {
	case ActionDelete:
		s.trash(ctx, userID, emails)
		n, err := s.store.DeleteMany(ctx, userID, owned)
		if err != nil {
			return nil, err
		}
		result.Affected = int(n)
	case ActionMarkRead, ActionMarkUnread:
		read := action == ActionMarkRead
		n, err := s.store.SetReadMany(ctx, userID, owned, read)
		if err != nil {
			return nil, err
		}
		s.mirrorRead(ctx, userID, emails, read)
		result.Affected = int(n)
	case ActionUnsubscribe:
		result.Unsubscribe = make([]model.BulkUnsubscribeResult, 0, len(emails))
		for i := range emails {
			r := s.unsubscribe(ctx, userID, &emails[i])
			if r.Result != nil && r.Result.Success {
				result.Affected++
			}
			result.Unsubscribe = append(result.Unsubscribe, r)
		}
	}
	return result, nil
}

// Unsubscribe runs extraction and, for a URL, the browser agent for one email.
func (s *Service) Unsubscribe(ctx context.Context, userID, id int) (*model.BulkUnsubscribeResult, error) {
	e, err := s.store.FindByID(ctx, userID, id)
	if err != nil {
		return nil, notFound(err)
	}
	r := s.unsubscribe(ctx, userID, e)
	return &r, nil
}

func (s *Service) unsubscribe(ctx context.Context, userID int, e *model.Email) model.BulkUnsubscribeResult {
	ctx, span := otel.StartSpan(ctx, "email.unsubscribe", attribute.Int("email_id", e.ID))
	defer span.End()

	out := model.BulkUnsubscribeResult{EmailID: e.ID}
	source := e.HTMLBody
	out.Info = s.extractor.Extract(ctx, source, e.ListUnsubscribe)
	if !out.Info.Found && e.Body != "" {
		source = e.Body
		out.Info = s.extractor.Extract(ctx, source, "")
	}

	switch {
	case out.Info.URL != "":
		out.Result = s.agent.Execute(ctx, out.Info.URL, source)
		metrics.IncrementUnsubscribe("browser", outcome(out.Result.Success))
	case out.Info.Email != "":
		out.Error = "Unsubscribe by email to " + out.Info.Email + " must be sent manually"
		metrics.IncrementUnsubscribe("mailto", "reported")
	default:
		out.Error = noUnsubscribeFound
		metrics.IncrementUnsubscribe("none", "not_found")
	}

	payload := mq.UnsubscribeAttemptedPayload{
		UserID:  userID,
		EmailID: e.ID,
		URL:     out.Info.URL,
		Email:   out.Info.Email,
		Message: out.Error,
	}
	if out.Result != nil {
		payload.Success = out.Result.Success
		payload.Message = out.Result.Message
	}
	_ = s.publisher.Publish(ctx, mq.RoutingUnsubscribeAttempted, payload)
	return out
}

func (s *Service) mirrorRead(ctx context.Context, userID int, emails []model.Email, read bool) {
	cred, ok := s.credential(ctx, userID)
	if !ok {
		return
	}
	for _, e := range emails {
		var err error
		if read {
			err = s.mailbox.MarkAsRead(ctx, cred, e.GmailID)
		} else {
			err = s.mailbox.MarkAsUnread(ctx, cred, e.GmailID)
		}
		if err != nil {
			s.logger.Warn("Failed to mirror read state to provider",
				zap.String("gmail_id", e.GmailID),
				zap.Bool("read", read),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) trash(ctx context.Context, userID int, emails []model.Email) {
	cred, ok := s.credential(ctx, userID)
	if !ok {
		return
	}
	for _, e := range emails {
		if err := s.mailbox.DeleteMessage(ctx, cred, e.GmailID); err != nil {
			s.logger.Warn("Failed to delete message at provider",
				zap.String("gmail_id", e.GmailID),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) credential(ctx context.Context, userID int) (gmail.Credential, bool) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to load user for provider call", zap.Int("user_id", userID), zap.Error(err))
		return gmail.Credential{}, false
	}
	if u.AccessToken == "" {
		return gmail.Credential{}, false
	}
	return gmail.CredentialOf(u), true
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
