package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"inboxtriage/internal/model"
)

type CategoryRepository struct {
	db *pgxpool.Pool
}

func NewCategoryRepository(db *pgxpool.Pool) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// Create inserts the category. A duplicate name for the user returns ErrDuplicate.
func (r *CategoryRepository) Create(ctx context.Context, c *model.Category) error {
	query := `
        INSERT INTO categories (user_id, name, description, color, created_at, updated_at)
        VALUES ($1, $2, $3, $4, NOW(), NOW())
        RETURNING id, created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query, c.UserID, c.Name, c.Description, c.Color).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return mapError(err)
}

// FindByID returns a category regardless of owner; callers check UserID.
func (r *CategoryRepository) FindByID(ctx context.Context, id int) (*model.Category, error) {
	query := `
        SELECT id, user_id, name, description, color, created_at, updated_at
        FROM categories
        WHERE id = $1
    `
	var c model.Category
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.UserID, &c.Name, &c.Description, &c.Color, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

// FindByName returns the user's category with the given name.
func (r *CategoryRepository) FindByName(ctx context.Context, userID int, name string) (*model.Category, error) {
	query := `
        SELECT id, user_id, name, description, color, created_at, updated_at
        FROM categories
        WHERE user_id = $1 AND name = $2
    `
	var c model.Category
	err := r.db.QueryRow(ctx, query, userID, name).Scan(
		&c.ID, &c.UserID, &c.Name, &c.Description, &c.Color, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

// ListByUser returns the user's categories ordered by name.
func (r *CategoryRepository) ListByUser(ctx context.Context, userID int) ([]model.Category, error) {
	query := `
        SELECT id, user_id, name, description, color, created_at, updated_at
        FROM categories
        WHERE user_id = $1
        ORDER BY name
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := []model.Category{}
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Description, &c.Color, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// Update saves name, description and color.
func (r *CategoryRepository) Update(ctx context.Context, c *model.Category) error {
	query := `
        UPDATE categories
        SET name = $1, description = $2, color = $3, updated_at = NOW()
        WHERE id = $4 AND user_id = $5
        RETURNING updated_at
    `
	err := r.db.QueryRow(ctx, query, c.Name, c.Description, c.Color, c.ID, c.UserID).Scan(&c.UpdatedAt)
	return mapError(err)
}

// Delete removes a category; its emails become uncategorized (ON DELETE SET NULL).
func (r *CategoryRepository) Delete(ctx context.Context, userID, id int) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM categories WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
