package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func TestClassifyError(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		retryable bool
		kind      string
	}{
		{"nil", nil, false, ""},
		{"canceled", fmt.Errorf("wrap: %w", context.Canceled), false, KindCanceled},
		{"deadline", context.DeadlineExceeded, true, KindTimeout},
		{"oauth rejected", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, false, KindAuth},
		{"gmail 401", &googleapi.Error{Code: http.StatusUnauthorized}, false, KindAuth},
		{"gmail 429", &googleapi.Error{Code: http.StatusTooManyRequests}, true, KindRateLimited},
		{
			"gmail 403 rate limit",
			&googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}},
			true, KindRateLimited,
		},
		{"gmail 403 other", &googleapi.Error{Code: http.StatusForbidden}, false, KindBadRequest},
		{"gmail 404", &googleapi.Error{Code: http.StatusNotFound}, false, KindNotFound},
		{"gmail 503", &googleapi.Error{Code: http.StatusServiceUnavailable}, true, KindUnavailable},
		{"openai quota", &openai.Error{StatusCode: http.StatusTooManyRequests}, true, KindRateLimited},
		{"duplicate key", &pgconn.PgError{Code: "23505"}, false, KindDuplicateKey},
		{"unknown", errors.New("something odd"), false, KindUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			retryable, kind := ClassifyError(tc.err)
			assert.Equal(t, tc.retryable, retryable)
			assert.Equal(t, tc.kind, kind)
		})
	}
}

func TestIsAuthErrorAndRateLimited(t *testing.T) {
	assert.True(t, IsAuthError(&googleapi.Error{Code: 401}))
	assert.False(t, IsAuthError(&googleapi.Error{Code: 429}))
	assert.True(t, IsRateLimited(&googleapi.Error{Code: 429}))
}
