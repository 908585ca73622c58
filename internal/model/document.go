package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Document is the durable snapshot of a collaboratively edited content item.
// Its ID doubles as the room key used by real-time clients.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Version   int64     `json:"version"`
	CreatedBy string    `json:"createdBy"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DocumentChange is one accepted content_change event as recorded by the store.
type DocumentChange struct {
	ID         int64           `json:"id"`
	DocumentID string          `json:"documentId"`
	UserID     string          `json:"userId"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// CreateDocumentRequest represents a request to create a new document.
type CreateDocumentRequest struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content"`
	UserID  string `json:"-"`
}

// Validate validates the create document request.
func (r *CreateDocumentRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return ErrTitleRequired
	}
	return nil
}
