package category

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"inboxtriage/internal/model"
	"inboxtriage/internal/repository"
)

var (
	ErrNameRequired  = errors.New("category name is required")
	ErrDuplicateName = errors.New("category with this name already exists")
	ErrNotFound      = errors.New("category not found")
	ErrForbidden     = errors.New("category belongs to another account")
)

type Store interface {
	Create(ctx context.Context, c *model.Category) error
	FindByID(ctx context.Context, id int) (*model.Category, error)
	FindByName(ctx context.Context, userID int, name string) (*model.Category, error)
	ListByUser(ctx context.Context, userID int) ([]model.Category, error)
	Update(ctx context.Context, c *model.Category) error
	Delete(ctx context.Context, userID, id int) error
}

type StatsStore interface {
	CountByCategory(ctx context.Context, userID int) ([]model.CategoryCount, error)
}

// Input carries create/update fields; nil pointers leave a field unchanged on update.
type Input struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
}

type Service struct {
	store  Store
	stats  StatsStore
	logger *zap.Logger
}

func NewService(store Store, stats StatsStore, logger *zap.Logger) *Service {
	return &Service{store: store, stats: stats, logger: logger}
}

func (s *Service) List(ctx context.Context, userID int) ([]model.Category, error) {
	return s.store.ListByUser(ctx, userID)
}

// Get returns a category owned by userID.
func (s *Service) Get(ctx context.Context, userID, id int) (*model.Category, error) {
	c, err := s.store.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrForbidden
	}
	return c, nil
}

func (s *Service) Create(ctx context.Context, userID int, in Input) (*model.Category, error) {
	name := trimmed(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if err := s.ensureUniqueName(ctx, userID, name, 0); err != nil {
		return nil, err
	}

	c := &model.Category{
		UserID:      userID,
		Name:        name,
		Description: trimmed(in.Description),
		Color:       trimmed(in.Color),
	}
	if c.Color == "" {
		c.Color = model.DefaultCategoryColor
	}
	if err := s.store.Create(ctx, c); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}

	s.logger.Info("Category created", zap.Int("user_id", userID), zap.Int("category_id", c.ID))
	return c, nil
}

func (s *Service) Update(ctx context.Context, userID, id int, in Input) (*model.Category, error) {
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := trimmed(in.Name)
		if name == "" {
			return nil, ErrNameRequired
		}
		if name != c.Name {
			if err := s.ensureUniqueName(ctx, userID, name, c.ID); err != nil {
				return nil, err
			}
			c.Name = name
		}
	}
	if in.Description != nil {
		c.Description = trimmed(in.Description)
	}
	if in.Color != nil {
		if color := trimmed(in.Color); color != "" {
			c.Color = color
		}
	}

	if err := s.store.Update(ctx, c); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	return c, nil
}

// Delete removes a category; its emails become uncategorized.
func (s *Service) Delete(ctx context.Context, userID, id int) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, userID, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.logger.Info("Category deleted", zap.Int("user_id", userID), zap.Int("category_id", id))
	return nil
}

// Stats returns message counts per category, uncategorized mail included.
func (s *Service) Stats(ctx context.Context, userID int) ([]model.CategoryCount, error) {
	return s.stats.CountByCategory(ctx, userID)
}

func (s *Service) ensureUniqueName(ctx context.Context, userID int, name string, selfID int) error {
	existing, err := s.store.FindByName(ctx, userID, name)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != selfID {
		return ErrDuplicateName
	}
	return nil
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
