package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxtriage/internal/model"
	"inboxtriage/internal/service/email"
	"inboxtriage/internal/service/ingest"
)

type EmailService interface {
	List(ctx context.Context, userID int, f model.EmailFilter) ([]model.Email, error)
	Get(ctx context.Context, userID, id int) (*model.Email, error)
	SetRead(ctx context.Context, userID, id int, read bool) error
	SetCategory(ctx context.Context, userID, id int, categoryID *int) error
	Delete(ctx context.Context, userID, id int) error
	ClearAll(ctx context.Context, userID int) (int64, error)
	Clean(ctx context.Context, userID int) (int, error)
	Bulk(ctx context.Context, userID int, action string, ids []int) (*email.BulkResult, error)
	Unsubscribe(ctx context.Context, userID, id int) (*model.BulkUnsubscribeResult, error)
}

type SyncService interface {
	EnsureFreshToken(ctx context.Context, u *model.User) error
	Sync(ctx context.Context, u *model.User, query string, maxMessages int, trigger string) (*model.SyncResult, error)
}

type UserFinder interface {
	FindByID(ctx context.Context, id int) (*model.User, error)
}

// maxManualSync caps maxEmails on a manual sync.
const maxManualSync = 500

type EmailHandler struct {
	emails    EmailService
	syncer    SyncService
	users     UserFinder
	query     string
	manualMax int
	logger    *zap.Logger
}

func NewEmailHandler(emails EmailService, syncer SyncService, users UserFinder, query string, manualMax int, logger *zap.Logger) *EmailHandler {
	if manualMax <= 0 {
		manualMax = 50
	}
	if query == "" {
		query = "in:inbox"
	}
	return &EmailHandler{
		emails:    emails,
		syncer:    syncer,
		users:     users,
		query:     query,
		manualMax: manualMax,
		logger:    logger,
	}
}

// Sync handles POST /api/emails/sync?maxEmails=&query=
func (h *EmailHandler) Sync(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	var req struct {
		MaxEmails int    `json:"maxEmails"`
		Query     string `json:"query"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	// URL parameters win over the body.
	if raw := c.Query("maxEmails"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid maxEmails"})
			return
		}
		req.MaxEmails = n
	}
	if q := c.Query("query"); q != "" {
		req.Query = q
	}

	limit := req.MaxEmails
	if limit <= 0 {
		limit = h.manualMax
	}
	limit = min(limit, maxManualSync)
	query := req.Query
	if query == "" {
		query = h.query
	}

	ctx := c.Request.Context()
	u, err := h.users.FindByID(ctx, userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if err := h.syncer.EnsureFreshToken(ctx, u); err != nil {
		respondError(c, h.logger, err)
		return
	}

	res, err := h.syncer.Sync(ctx, u, query, limit, ingest.TriggerManual)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"processed":    res.Processed,
		"errors":       res.Errors,
		"skipped":      res.Skipped,
		"errorDetails": res.ErrorDetails,
		"totalFound":   res.TotalFound,
		"maxProcessed": limit,
		"message":      fmt.Sprintf("Successfully processed %d emails", res.Processed),
	})
}

// List handles GET /api/emails?categoryId=&limit=&offset=
func (h *EmailHandler) List(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	var f model.EmailFilter
	switch raw := c.Query("categoryId"); raw {
	case "":
	case "uncategorized", "null":
		f.Uncategorized = true
	default:
		id, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid categoryId"})
			return
		}
		f.CategoryID = &id
	}
	f.Limit, _ = strconv.Atoi(c.Query("limit"))
	f.Offset, _ = strconv.Atoi(c.Query("offset"))

	emails, err := h.emails.List(c.Request.Context(), userID, f)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, emails)
}

// Get handles GET /api/emails/:id
func (h *EmailHandler) Get(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	e, err := h.emails.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// MarkRead handles PATCH /api/emails/:id/read
func (h *EmailHandler) MarkRead(c *gin.Context) { h.setRead(c, true) }

// MarkUnread handles PATCH /api/emails/:id/unread
func (h *EmailHandler) MarkUnread(c *gin.Context) { h.setRead(c, false) }

func (h *EmailHandler) setRead(c *gin.Context, read bool) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.emails.SetRead(c.Request.Context(), userID, id, read); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_read": read})
}

// SetCategory handles PATCH /api/emails/:id/category
func (h *EmailHandler) SetCategory(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req struct {
		CategoryID *int `json:"categoryId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.emails.SetCategory(c.Request.Context(), userID, id, req.CategoryID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "category_id": req.CategoryID})
}

// Delete handles DELETE /api/emails/:id
func (h *EmailHandler) Delete(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.emails.Delete(c.Request.Context(), userID, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email deleted successfully"})
}

// ClearAll handles DELETE /api/emails
func (h *EmailHandler) ClearAll(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	n, err := h.emails.ClearAll(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// Clean handles POST /api/emails/clean
func (h *EmailHandler) Clean(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	n, err := h.emails.Clean(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// Bulk handles POST /api/emails/bulk
func (h *EmailHandler) Bulk(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}

	var req struct {
		Action   string `json:"action" binding:"required"`
		EmailIDs []int  `json:"emailIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	res, err := h.emails.Bulk(c.Request.Context(), userID, req.Action, req.EmailIDs)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Unsubscribe handles POST /api/emails/:id/unsubscribe
func (h *EmailHandler) Unsubscribe(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	res, err := h.emails.Unsubscribe(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
