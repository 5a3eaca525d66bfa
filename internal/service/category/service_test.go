package category

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inboxtriage/internal/model"
	"inboxtriage/internal/repository"
)

type memStore struct {
	rows map[int]*model.Category
	next int
}

func newMemStore() *memStore { return &memStore{rows: map[int]*model.Category{}} }

func (m *memStore) Create(_ context.Context, c *model.Category) error {
	m.next++
	c.ID = m.next
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *memStore) FindByID(_ context.Context, id int) (*model.Category, error) {
	c, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) FindByName(_ context.Context, userID int, name string) (*model.Category, error) {
	for _, c := range m.rows {
		if c.UserID == userID && c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) ListByUser(_ context.Context, userID int) ([]model.Category, error) {
	var out []model.Category
	for _, c := range m.rows {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) Update(_ context.Context, c *model.Category) error {
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *memStore) Delete(_ context.Context, userID, id int) error {
	if c, ok := m.rows[id]; !ok || c.UserID != userID {
		return repository.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memStore) CountByCategory(context.Context, int) ([]model.CategoryCount, error) {
	return []model.CategoryCount{{Name: "Uncategorized", Total: 3, Unread: 1}}, nil
}

func ptr(s string) *string { return &s }

func newService() (*Service, *memStore) {
	store := newMemStore()
	return NewService(store, store, zap.NewNop()), store
}

func TestCreate(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	c, err := svc.Create(ctx, 1, Input{Name: ptr("  Work "), Description: ptr("Work mail")})
	require.NoError(t, err)
	assert.Equal(t, "Work", c.Name)
	assert.Equal(t, model.DefaultCategoryColor, c.Color)

	_, err = svc.Create(ctx, 1, Input{Name: ptr("Work")})
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = svc.Create(ctx, 2, Input{Name: ptr("Work")})
	assert.NoError(t, err, "names are unique per account only")

	_, err = svc.Create(ctx, 1, Input{Name: ptr("   ")})
	assert.ErrorIs(t, err, ErrNameRequired)
}

func TestGet_Ownership(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	c, err := svc.Create(ctx, 1, Input{Name: ptr("Work")})
	require.NoError(t, err)

	_, err = svc.Get(ctx, 2, c.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Get(ctx, 1, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	work, _ := svc.Create(ctx, 1, Input{Name: ptr("Work")})
	_, _ = svc.Create(ctx, 1, Input{Name: ptr("Travel")})

	_, err := svc.Update(ctx, 1, work.ID, Input{Name: ptr("Travel")})
	assert.ErrorIs(t, err, ErrDuplicateName)

	updated, err := svc.Update(ctx, 1, work.ID, Input{Name: ptr("Work"), Color: ptr("#000000")})
	require.NoError(t, err, "keeping its own name is not a conflict")
	assert.Equal(t, "#000000", updated.Color)
	assert.Equal(t, "#000000", store.rows[work.ID].Color)

	_, err = svc.Update(ctx, 2, work.ID, Input{Description: ptr("x")})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDelete(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()
	c, _ := svc.Create(ctx, 1, Input{Name: ptr("Work")})

	assert.ErrorIs(t, svc.Delete(ctx, 2, c.ID), ErrForbidden)
	require.NoError(t, svc.Delete(ctx, 1, c.ID))
	assert.Empty(t, store.rows)
	assert.ErrorIs(t, svc.Delete(ctx, 1, c.ID), ErrNotFound)
}

func TestStats(t *testing.T) {
	svc, _ := newService()
	stats, err := svc.Stats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, stats[0].Total)
}
