package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inboxtriage/internal/model"
)

type EmailRepository struct {
	db *pgxpool.Pool
}

func NewEmailRepository(db *pgxpool.Pool) *EmailRepository {
	return &EmailRepository{db: db}
}

const emailColumns = `
            id, user_id, category_id, gmail_id, thread_id, subject, sender, recipients,
            body, html_body, clean_text, list_unsubscribe, ai_summary, confidence, is_read, is_archived,
            COALESCE(received_at, created_at), created_at, updated_at`

func scanEmail(row pgx.Row) (*model.Email, error) {
	var e model.Email
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.CategoryID,
		&e.GmailID,
		&e.ThreadID,
		&e.Subject,
		&e.Sender,
		&e.Recipients,
		&e.Body,
		&e.HTMLBody,
		&e.CleanText,
		&e.ListUnsubscribe,
		&e.AISummary,
		&e.Confidence,
		&e.IsRead,
		&e.IsArchived,
		&e.ReceivedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create inserts the email. It returns false without error when (user_id, gmail_id) already exists.
func (r *EmailRepository) Create(ctx context.Context, e *model.Email) (bool, error) {
	query := `
        INSERT INTO emails (
            user_id, category_id, gmail_id, thread_id, subject, sender, recipients,
            body, html_body, clean_text, list_unsubscribe, ai_summary, confidence, is_read, is_archived,
            received_at, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
        ON CONFLICT (user_id, gmail_id) DO NOTHING
        RETURNING id, created_at, updated_at
    `
	recipients := e.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	err := r.db.QueryRow(ctx, query,
		e.UserID, e.CategoryID, e.GmailID, e.ThreadID, e.Subject, e.Sender, recipients,
		e.Body, e.HTMLBody, e.CleanText, e.ListUnsubscribe, e.AISummary, e.Confidence, e.IsRead, e.IsArchived,
		e.ReceivedAt,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert email: %w", err)
	}
	return true, nil
}

// ExistsByGmailID reports whether the user already has this provider message.
func (r *EmailRepository) ExistsByGmailID(ctx context.Context, userID int, gmailID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM emails WHERE user_id = $1 AND gmail_id = $2)`
	var exists bool
	err := r.db.QueryRow(ctx, query, userID, gmailID).Scan(&exists)
	return exists, err
}

// FindByID returns one email owned by userID.
func (r *EmailRepository) FindByID(ctx context.Context, userID, id int) (*model.Email, error) {
	query := `SELECT` + emailColumns + `
        FROM emails
        WHERE id = $1 AND user_id = $2
    `
	e, err := scanEmail(r.db.QueryRow(ctx, query, id, userID))
	return e, mapError(err)
}

// FindByIDs returns the user's emails among ids.
func (r *EmailRepository) FindByIDs(ctx context.Context, userID int, ids []int) ([]model.Email, error) {
	query := `SELECT` + emailColumns + `
        FROM emails
        WHERE user_id = $1 AND id = ANY($2)
        ORDER BY id
    `
	return r.list(ctx, query, userID, ids)
}

// ListByUser returns the user's emails, newest first.
func (r *EmailRepository) ListByUser(ctx context.Context, userID int, f model.EmailFilter) ([]model.Email, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT` + emailColumns + `
        FROM emails
        WHERE user_id = $1
          AND ($2::int IS NULL OR category_id = $2)
          AND (NOT $3 OR category_id IS NULL)
        ORDER BY COALESCE(received_at, created_at) DESC
        LIMIT $4 OFFSET $5
    `
	return r.list(ctx, query, userID, f.CategoryID, f.Uncategorized, limit, f.Offset)
}

// ListForCleaning returns the user's emails that have an HTML body.
func (r *EmailRepository) ListForCleaning(ctx context.Context, userID int) ([]model.Email, error) {
	query := `SELECT` + emailColumns + `
        FROM emails
        WHERE user_id = $1 AND html_body <> ''
        ORDER BY id
    `
	return r.list(ctx, query, userID)
}

func (r *EmailRepository) list(ctx context.Context, query string, args ...any) ([]model.Email, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emails := []model.Email{}
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

// SetRead updates the read flag of one email.
func (r *EmailRepository) SetRead(ctx context.Context, userID, id int, read bool) error {
	query := `
        UPDATE emails
        SET is_read = $1, updated_at = NOW()
        WHERE id = $2 AND user_id = $3
    `
	tag, err := r.db.Exec(ctx, query, read, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReadMany updates the read flag of the user's emails among ids.
func (r *EmailRepository) SetReadMany(ctx context.Context, userID int, ids []int, read bool) (int64, error) {
	query := `
        UPDATE emails
        SET is_read = $1, updated_at = NOW()
        WHERE user_id = $2 AND id = ANY($3)
    `
	tag, err := r.db.Exec(ctx, query, read, userID, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SetCategory reassigns an email; categoryID nil clears it.
func (r *EmailRepository) SetCategory(ctx context.Context, userID, id int, categoryID *int) error {
	query := `
        UPDATE emails
        SET category_id = $1, updated_at = NOW()
        WHERE id = $2 AND user_id = $3
    `
	tag, err := r.db.Exec(ctx, query, categoryID, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCleanText stores a recomputed clean_text.
func (r *EmailRepository) UpdateCleanText(ctx context.Context, userID, id int, cleanText string) error {
	query := `
        UPDATE emails
        SET clean_text = $1, updated_at = NOW()
        WHERE id = $2 AND user_id = $3
    `
	_, err := r.db.Exec(ctx, query, cleanText, id, userID)
	return err
}

// Delete removes one email.
func (r *EmailRepository) Delete(ctx context.Context, userID, id int) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM emails WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMany removes the user's emails among ids.
func (r *EmailRepository) DeleteMany(ctx context.Context, userID int, ids []int) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM emails WHERE user_id = $1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteAllByUser removes every email of the user.
func (r *EmailRepository) DeleteAllByUser(ctx context.Context, userID int) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM emails WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountByCategory returns per-category totals, including uncategorized mail.
func (r *EmailRepository) CountByCategory(ctx context.Context, userID int) ([]model.CategoryCount, error) {
	query := `
        SELECT
            c.id,
            COALESCE(c.name, 'Uncategorized'),
            COALESCE(c.color, '#9CA3AF'),
            COUNT(e.id),
            COUNT(e.id) FILTER (WHERE NOT e.is_read)
        FROM emails e
        LEFT JOIN categories c ON c.id = e.category_id
        WHERE e.user_id = $1
        GROUP BY c.id, c.name, c.color
        ORDER BY COUNT(e.id) DESC
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []model.CategoryCount{}
	for rows.Next() {
		var c model.CategoryCount
		if err := rows.Scan(&c.CategoryID, &c.Name, &c.Color, &c.Total, &c.Unread); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
