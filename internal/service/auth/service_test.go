package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"inboxtriage/internal/model"
	"inboxtriage/pkg/util"
)

type memUsers struct {
	saved *model.User
}

func (m *memUsers) UpsertGoogleUser(_ context.Context, u *model.User) error {
	u.ID = 42
	m.saved = u
	return nil
}

func (m *memUsers) FindByID(context.Context, int) (*model.User, error) { return m.saved, nil }

func newGoogle(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access",
			"refresh_token": "refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/oauth2/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "g-123", "email": "jane@example.com", "name": "Jane", "picture": "https://img.example/j.png",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthURL(t *testing.T) {
	svc := NewService(&oauth2.Config{
		ClientID:    "client",
		RedirectURL: "http://localhost/cb",
		Scopes:      []string{"email"},
		Endpoint:    oauth2.Endpoint{AuthURL: "https://accounts.example/auth"},
	}, &memUsers{}, "secret", 0, zap.NewNop())

	u, err := url.Parse(svc.AuthURL("state-1"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "state-1", q.Get("state"))
}

func TestHandleCallback(t *testing.T) {
	srv := newGoogle(t)
	users := &memUsers{}
	cfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
	}
	svc := NewService(cfg, users, "jwt-secret", 0, zap.NewNop(),
		option.WithEndpoint(srv.URL+"/"),
	)

	token, u, err := svc.HandleCallback(context.Background(), "the-code")
	require.NoError(t, err)

	assert.Equal(t, 42, u.ID)
	assert.Equal(t, "g-123", users.saved.GoogleID)
	assert.Equal(t, "refresh", users.saved.RefreshToken)
	require.NotNil(t, users.saved.TokenExpiry)

	id, err := util.ParseJWT(token, "jwt-secret")
	require.NoError(t, err)
	assert.Equal(t, 42, id)
}

func TestHandleCallback_MissingCode(t *testing.T) {
	svc := NewService(&oauth2.Config{}, &memUsers{}, "s", 0, zap.NewNop())
	_, _, err := svc.HandleCallback(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingCode)
}
