package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxtriage/internal/gmail"
	"inboxtriage/internal/repository"
	"inboxtriage/internal/service/auth"
	"inboxtriage/internal/service/category"
	"inboxtriage/internal/service/email"
	"inboxtriage/internal/service/ingest"
	"inboxtriage/pkg/logger"
)

type apiError struct {
	status int
	code   string
}

var errorTable = []struct {
	err error
	apiError
}{
	{ingest.ErrNoCategories, apiError{http.StatusBadRequest, "no_categories"}},
	{ingest.ErrSyncInProgress, apiError{http.StatusConflict, "sync_in_progress"}},
	{gmail.ErrReauthRequired, apiError{http.StatusUnauthorized, "reauth_required"}},
	{gmail.ErrNotConnected, apiError{http.StatusBadRequest, "not_connected"}},
	{category.ErrNameRequired, apiError{http.StatusBadRequest, "name_required"}},
	{category.ErrDuplicateName, apiError{http.StatusConflict, "duplicate_name"}},
	{category.ErrForbidden, apiError{http.StatusForbidden, "forbidden"}},
	{category.ErrNotFound, apiError{http.StatusNotFound, "not_found"}},
	{email.ErrCategoryForbidden, apiError{http.StatusForbidden, "forbidden"}},
	{email.ErrNotFound, apiError{http.StatusNotFound, "not_found"}},
	{email.ErrInvalidAction, apiError{http.StatusBadRequest, "invalid_action"}},
	{email.ErrNoIDs, apiError{http.StatusBadRequest, "invalid_request"}},
	{auth.ErrMissingCode, apiError{http.StatusBadRequest, "invalid_request"}},
	{repository.ErrNotFound, apiError{http.StatusNotFound, "not_found"}},
}

// respondError writes the status mapped from err. Unmapped errors are logged and become 500.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			c.JSON(e.status, gin.H{"error": e.err.Error(), "code": e.code})
			return
		}
	}
	logger.WithTrace(c.Request.Context(), log).Error("Request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// getUserID reads the id set by the auth middleware.
func getUserID(c *gin.Context) (int, bool) {
	userID, ok := c.Get("user_id")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return 0, false
	}
	return userID.(int), true
}

func pathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
