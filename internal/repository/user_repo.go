package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"inboxtriage/internal/model"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
            id, google_id, email, name, picture,
            COALESCE(access_token, ''), COALESCE(refresh_token, ''), token_expiry,
            created_at, updated_at`

// UpsertGoogleUser inserts or updates the user identified by GoogleID.
// An empty refresh token keeps the stored one.
func (r *UserRepository) UpsertGoogleUser(ctx context.Context, u *model.User) error {
	query := `
        INSERT INTO users (google_id, email, name, picture, access_token, refresh_token, token_expiry, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NOW(), NOW())
        ON CONFLICT (google_id) DO UPDATE SET
            email         = EXCLUDED.email,
            name          = EXCLUDED.name,
            picture       = EXCLUDED.picture,
            access_token  = EXCLUDED.access_token,
            refresh_token = COALESCE(EXCLUDED.refresh_token, users.refresh_token),
            token_expiry  = EXCLUDED.token_expiry,
            updated_at    = NOW()
        RETURNING id, created_at, updated_at
    `
	return r.db.QueryRow(ctx, query,
		u.GoogleID, u.Email, u.Name, u.Picture, u.AccessToken, u.RefreshToken, u.TokenExpiry,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

// FindByID returns a user by id.
func (r *UserRepository) FindByID(ctx context.Context, id int) (*model.User, error) {
	query := `SELECT` + userColumns + `
        FROM users
        WHERE id = $1
    `
	var u model.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.GoogleID, &u.Email, &u.Name, &u.Picture,
		&u.AccessToken, &u.RefreshToken, &u.TokenExpiry,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// ListWithTokens returns every user holding both an access and a refresh token.
func (r *UserRepository) ListWithTokens(ctx context.Context) ([]model.User, error) {
	query := `SELECT` + userColumns + `
        FROM users
        WHERE access_token IS NOT NULL AND access_token <> ''
          AND refresh_token IS NOT NULL AND refresh_token <> ''
        ORDER BY id
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		var u model.User
		if err := rows.Scan(
			&u.ID, &u.GoogleID, &u.Email, &u.Name, &u.Picture,
			&u.AccessToken, &u.RefreshToken, &u.TokenExpiry,
			&u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateTokens stores a refreshed token pair. An empty refresh token keeps the stored one.
func (r *UserRepository) UpdateTokens(ctx context.Context, userID int, accessToken, refreshToken string, expiry time.Time) error {
	query := `
        UPDATE users
        SET access_token = $1,
            refresh_token = COALESCE(NULLIF($2, ''), refresh_token),
            token_expiry = $3,
            updated_at = NOW()
        WHERE id = $4
    `
	tag, err := r.db.Exec(ctx, query, accessToken, refreshToken, expiry, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
