package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxtriage/internal/model"
	"inboxtriage/internal/service/category"
)

type CategoryService interface {
	List(ctx context.Context, userID int) ([]model.Category, error)
	Get(ctx context.Context, userID, id int) (*model.Category, error)
	Create(ctx context.Context, userID int, in category.Input) (*model.Category, error)
	Update(ctx context.Context, userID, id int, in category.Input) (*model.Category, error)
	Delete(ctx context.Context, userID, id int) error
	Stats(ctx context.Context, userID int) ([]model.CategoryCount, error)
}

type CategoryHandler struct {
	categories CategoryService
	logger     *zap.Logger
}

func NewCategoryHandler(categories CategoryService, logger *zap.Logger) *CategoryHandler {
	return &CategoryHandler{categories: categories, logger: logger}
}

func (h *CategoryHandler) List(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	list, err := h.categories.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *CategoryHandler) Get(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	cat, err := h.categories.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (h *CategoryHandler) Create(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var in category.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	cat, err := h.categories.Create(c.Request.Context(), userID, in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}

func (h *CategoryHandler) Update(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in category.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	cat, err := h.categories.Update(c.Request.Context(), userID, id, in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, cat)
}

func (h *CategoryHandler) Delete(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.categories.Delete(c.Request.Context(), userID, id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Category deleted successfully"})
}

// Stats handles GET /api/categories/stats
func (h *CategoryHandler) Stats(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	stats, err := h.categories.Stats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
