package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"inboxtriage/internal/model"
	"inboxtriage/pkg/config"
	"inboxtriage/pkg/metrics"
)

const (
	userID         = "me"
	labelInbox     = "INBOX"
	labelUnread    = "UNREAD"
	defaultTimeout = 30 * time.Second
)

var (
	// ErrReauthRequired means the provider rejected the refresh token; the user must reconnect.
	ErrReauthRequired = errors.New("gmail: reauthorization required")
	// ErrNotConnected means the account has no stored credentials.
	ErrNotConnected = errors.New("gmail: account not connected")
)

// Scopes requested at consent time.
var Scopes = []string{
	gmailapi.GmailReadonlyScope,
	gmailapi.GmailModifyScope,
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// OAuthConfig builds the OAuth client configuration for Google.
func OAuthConfig(cfg config.GoogleConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}
}

// Credential is the token pair used for one account.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// CredentialOf returns the stored credential of u.
func CredentialOf(u *model.User) Credential {
	c := Credential{AccessToken: u.AccessToken, RefreshToken: u.RefreshToken}
	if u.TokenExpiry != nil {
		c.Expiry = *u.TokenExpiry
	}
	return c
}

// ListResult is one page of fully fetched messages.
type ListResult struct {
	Messages      []*model.Envelope
	NextPageToken string
	// Listed counts ids returned by the page, including ones that failed to fetch.
	Listed int
}

// Client wraps the Gmail REST API.
type Client struct {
	oauth   *oauth2.Config
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
	opts    []option.ClientOption
	timeout time.Duration
}

// NewClient creates a client. Extra options are appended to every service
// (for example option.WithEndpoint in tests).
func NewClient(oauth *oauth2.Config, logger *zap.Logger, opts ...option.ClientOption) *Client {
	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !tripsBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Client{
		oauth:   oauth,
		cb:      gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
		opts:    opts,
		timeout: defaultTimeout,
	}
}

// tripsBreaker reports whether err indicates the provider itself is unhealthy.
// Client errors (bad request, auth, not found) do not.
func tripsBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return true
}

func (c *Client) service(ctx context.Context, cred Credential) (*gmailapi.Service, error) {
	if cred.AccessToken == "" {
		return nil, ErrNotConnected
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.Expiry,
		TokenType:    "Bearer",
	})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, c.opts...)
	return gmailapi.NewService(ctx, opts...)
}

// execute runs fn under the breaker with a per-call timeout and records latency.
func (c *Client) execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})

	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "circuit_open"
		}
	}
	metrics.RecordGmailCallLatency(operation, status, time.Since(start))
	return err
}

// ListMessages returns one page of messages matching query, each fetched in full.
// Messages that fail to fetch are skipped.
func (c *Client) ListMessages(ctx context.Context, cred Credential, query string, maxResults int64, pageToken string) (*ListResult, error) {
	svc, err := c.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	var resp *gmailapi.ListMessagesResponse
	err = c.execute(ctx, "list", func(ctx context.Context) error {
		call := svc.Users.Messages.List(userID).Q(query).MaxResults(maxResults)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		var callErr error
		resp, callErr = call.Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	result := &ListResult{
		Messages:      make([]*model.Envelope, 0, len(resp.Messages)),
		NextPageToken: resp.NextPageToken,
		Listed:        len(resp.Messages),
	}
	for _, m := range resp.Messages {
		if env := c.getMessage(ctx, svc, m.Id); env != nil {
			result.Messages = append(result.Messages, env)
		}
	}
	return result, nil
}

// GetMessage fetches one message in full. It returns nil on any failure.
func (c *Client) GetMessage(ctx context.Context, cred Credential, id string) *model.Envelope {
	svc, err := c.service(ctx, cred)
	if err != nil {
		c.logger.Warn("Failed to build gmail service", zap.String("gmail_id", id), zap.Error(err))
		return nil
	}
	return c.getMessage(ctx, svc, id)
}

func (c *Client) getMessage(ctx context.Context, svc *gmailapi.Service, id string) *model.Envelope {
	var msg *gmailapi.Message
	err := c.execute(ctx, "get", func(ctx context.Context) error {
		var callErr error
		msg, callErr = svc.Users.Messages.Get(userID, id).Format("full").Context(ctx).Do()
		return callErr
	})
	if err != nil {
		c.logger.Warn("Failed to fetch message", zap.String("gmail_id", id), zap.Error(err))
		return nil
	}
	return toEnvelope(msg)
}

// ArchiveMessage removes the INBOX label.
func (c *Client) ArchiveMessage(ctx context.Context, cred Credential, id string) error {
	return c.modifyLabels(ctx, cred, "archive", id, nil, []string{labelInbox})
}

// MarkAsRead removes the UNREAD label.
func (c *Client) MarkAsRead(ctx context.Context, cred Credential, id string) error {
	return c.modifyLabels(ctx, cred, "mark_read", id, nil, []string{labelUnread})
}

// MarkAsUnread adds the UNREAD label.
func (c *Client) MarkAsUnread(ctx context.Context, cred Credential, id string) error {
	return c.modifyLabels(ctx, cred, "mark_unread", id, []string{labelUnread}, nil)
}

// DeleteMessage moves the message to trash. A message that no longer exists is not an error.
func (c *Client) DeleteMessage(ctx context.Context, cred Credential, id string) error {
	svc, err := c.service(ctx, cred)
	if err != nil {
		return err
	}
	err = c.execute(ctx, "trash", func(ctx context.Context) error {
		_, callErr := svc.Users.Messages.Trash(userID, id).Context(ctx).Do()
		return callErr
	})
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("trash message %s: %w", id, err)
	}
	return nil
}

func (c *Client) modifyLabels(ctx context.Context, cred Credential, operation, id string, add, remove []string) error {
	svc, err := c.service(ctx, cred)
	if err != nil {
		return err
	}
	err = c.execute(ctx, operation, func(ctx context.Context) error {
		req := &gmailapi.ModifyMessageRequest{AddLabelIds: add, RemoveLabelIds: remove}
		_, callErr := svc.Users.Messages.Modify(userID, id, req).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", operation, id, err)
	}
	return nil
}

// RefreshToken exchanges a refresh token for a new access token. A rejected
// refresh token yields an error wrapping ErrReauthRequired.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*model.TokenSet, error) {
	if refreshToken == "" {
		return nil, ErrReauthRequired
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("%w: %v", ErrReauthRequired, err)
		}
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	set := &model.TokenSet{
		AccessToken: tok.AccessToken,
		Expiry:      tok.Expiry,
	}
	if tok.RefreshToken != refreshToken {
		set.RefreshToken = tok.RefreshToken
	}
	return set, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// toEnvelope converts an API message into the provider-neutral envelope.
func toEnvelope(msg *gmailapi.Message) *model.Envelope {
	if msg == nil {
		return nil
	}
	env := &model.Envelope{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		LabelIDs:     msg.LabelIds,
		InternalDate: msg.InternalDate,
	}
	if msg.Payload == nil {
		return env
	}
	env.MimeType = msg.Payload.MimeType
	env.Headers = toHeaders(msg.Payload.Headers)
	if msg.Payload.Body != nil {
		env.Body = msg.Payload.Body.Data
	}
	env.Parts = toParts(msg.Payload.Parts)
	return env
}

func toParts(parts []*gmailapi.MessagePart) []model.Part {
	if len(parts) == 0 {
		return nil
	}
	out := make([]model.Part, 0, len(parts))
	for _, p := range parts {
		if p == nil {
			continue
		}
		part := model.Part{
			MimeType: p.MimeType,
			Headers:  toHeaders(p.Headers),
			Parts:    toParts(p.Parts),
		}
		if p.Body != nil {
			part.Data = p.Body.Data
		}
		out = append(out, part)
	}
	return out
}

func toHeaders(headers []*gmailapi.MessagePartHeader) []model.Header {
	out := make([]model.Header, 0, len(headers))
	for _, h := range headers {
		if h != nil {
			out = append(out, model.Header{Name: h.Name, Value: h.Value})
		}
	}
	return out
}
