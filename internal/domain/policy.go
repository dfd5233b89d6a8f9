package domain

import "time"

// PolicyConfig is a CEL-based decision override. Policies evaluate after the
// threshold classification and may only escalate the action (approve to
// review, review to block), never soften it.
type PolicyConfig struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Expression  string    `json:"expression"`
	EscalateTo  string    `json:"escalate_to"` // "review" or "block"
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}
