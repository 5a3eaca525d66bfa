package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/openai/openai-go"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Error kinds reported by ClassifyError.
const (
	KindAuth         = "auth_error"
	KindRateLimited  = "rate_limited"
	KindNotFound     = "not_found"
	KindBadRequest   = "bad_request"
	KindUnavailable  = "provider_unavailable"
	KindDuplicateKey = "duplicate_key"
	KindDecode       = "json_decode_error"
	KindTimeout      = "timeout"
	KindNetwork      = "network_error"
	KindCanceled     = "context_canceled"
	KindUnknown      = "unknown_error"
)

// ClassifyError labels an error from the Gmail API, the LLM API, OAuth, the
// database or the network. Returns: (isRetryable, errorKind)
func ClassifyError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	if errors.Is(err, context.Canceled) {
		return false, KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, KindTimeout
	}

	// OAuth token endpoint rejections (invalid_grant etc.) need the user to reconnect.
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return false, KindAuth
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if gErr.Code == http.StatusForbidden {
			for _, item := range gErr.Errors {
				if strings.Contains(item.Reason, "rateLimitExceeded") || strings.Contains(item.Reason, "userRateLimitExceeded") {
					return true, KindRateLimited
				}
			}
		}
		return classifyStatus(gErr.Code)
	}

	var aiErr *openai.Error
	if errors.As(err, &aiErr) {
		return classifyStatus(aiErr.StatusCode)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, KindDuplicateKey
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, KindNotFound
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, KindDecode
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, KindTimeout
		}
		return true, KindNetwork
	}

	return false, KindUnknown
}

func classifyStatus(code int) (bool, string) {
	switch {
	case code == http.StatusUnauthorized:
		return false, KindAuth
	case code == http.StatusTooManyRequests:
		return true, KindRateLimited
	case code == http.StatusNotFound:
		return false, KindNotFound
	case code >= 500:
		return true, KindUnavailable
	case code >= 400:
		return false, KindBadRequest
	default:
		return false, KindUnknown
	}
}

// IsAuthError reports whether err means the credentials must be re-issued.
func IsAuthError(err error) bool {
	_, kind := ClassifyError(err)
	return kind == KindAuth
}

// IsRateLimited reports whether err is a quota or rate-limit rejection.
func IsRateLimited(err error) bool {
	_, kind := ClassifyError(err)
	return kind == KindRateLimited
}
