package model

import "time"

const DefaultCategoryColor = "#3B82F6"

// Category is a user-defined bucket. Description is the classification signal.
type Category struct {
	ID          int       `json:"id"`
	UserID      int       `json:"user_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Color       string    `json:"color"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
