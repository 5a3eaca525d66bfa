package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"inboxtriage/internal/model"
	"inboxtriage/pkg/util"
)

var (
	ErrMissingCode = errors.New("authorization code is required")
	ErrNoProfile   = errors.New("google profile has no id or email")
)

type UserStore interface {
	UpsertGoogleUser(ctx context.Context, u *model.User) error
	FindByID(ctx context.Context, id int) (*model.User, error)
}

// Service connects Google accounts and issues session tokens.
type Service struct {
	oauth     *oauth2.Config
	users     UserStore
	jwtSecret string
	jwtTTL    time.Duration
	logger    *zap.Logger
	opts      []option.ClientOption
}

// NewService creates the service. Extra options are passed to the userinfo client.
func NewService(oauth *oauth2.Config, users UserStore, jwtSecret string, jwtTTL time.Duration, logger *zap.Logger, opts ...option.ClientOption) *Service {
	return &Service{
		oauth:     oauth,
		users:     users,
		jwtSecret: jwtSecret,
		jwtTTL:    jwtTTL,
		logger:    logger,
		opts:      opts,
	}
}

// AuthURL returns the consent URL. Offline access with forced consent makes
// Google return a refresh token.
func (s *Service) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// HandleCallback exchanges code for tokens, stores the account and returns a session token.
func (s *Service) HandleCallback(ctx context.Context, code string) (string, *model.User, error) {
	if code == "" {
		return "", nil, ErrMissingCode
	}

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return "", nil, fmt.Errorf("exchange code: %w", err)
	}

	opts := append([]option.ClientOption{option.WithTokenSource(s.oauth.TokenSource(ctx, tok))}, s.opts...)
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return "", nil, fmt.Errorf("userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", nil, fmt.Errorf("fetch profile: %w", err)
	}
	if info.Id == "" || info.Email == "" {
		return "", nil, ErrNoProfile
	}

	u := &model.User{
		GoogleID:     info.Id,
		Email:        info.Email,
		Name:         info.Name,
		Picture:      info.Picture,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		u.TokenExpiry = &expiry
	}
	if err := s.users.UpsertGoogleUser(ctx, u); err != nil {
		return "", nil, fmt.Errorf("store user: %w", err)
	}

	token, err := util.GenerateJWT(u.ID, s.jwtSecret, s.jwtTTL)
	if err != nil {
		return "", nil, err
	}
	s.logger.Info("User signed in", zap.Int("user_id", u.ID), zap.String("email", u.Email))
	return token, u, nil
}

func (s *Service) Me(ctx context.Context, userID int) (*model.User, error) {
	return s.users.FindByID(ctx, userID)
}
