package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/open-same/collab-hub/internal/model"
)

// DocumentRepository provides data access for documents and their change log.
type DocumentRepository struct {
	db *sql.DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document into the database.
func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	query := `
		INSERT INTO documents (id, title, content, version, created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		doc.ID,
		doc.Title,
		doc.Content,
		doc.Version,
		doc.CreatedBy,
		nullString(doc.UpdatedBy),
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

// GetByID retrieves a document by its ID.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*model.Document, error) {
	query := `
		SELECT id, title, content, version, created_by, updated_by, created_at, updated_at
		FROM documents
		WHERE id = ?
	`

	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, model.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return doc, nil
}

// List retrieves the most recently updated documents.
func (r *DocumentRepository) List(ctx context.Context, limit int) ([]*model.Document, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, title, content, version, created_by, updated_by, created_at, updated_at
		FROM documents
		ORDER BY updated_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, nil
}

// UpdateContent replaces the stored content. The version only moves with
// AppendChange.
func (r *DocumentRepository) UpdateContent(ctx context.Context, id, content, userID string) error {
	query := `
		UPDATE documents
		SET content = ?, updated_by = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, content, userID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update document content: %w", err)
	}

	return requireAffected(result)
}

// AppendChange records one accepted change event and bumps the document version.
func (r *DocumentRepository) AppendChange(ctx context.Context, id, userID string, payload json.RawMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET version = version + 1, updated_by = ?, updated_at = ?
		WHERE id = ?
	`, userID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to bump document version: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_changes (document_id, user_id, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, id, userID, string(payload), time.Now()); err != nil {
		return fmt.Errorf("failed to append document change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document change: %w", err)
	}
	return nil
}

// ListChanges returns the recorded change events of a document, oldest first.
func (r *DocumentRepository) ListChanges(ctx context.Context, id string) ([]*model.DocumentChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, payload, created_at
		FROM document_changes
		WHERE document_id = ?
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list document changes: %w", err)
	}
	defer rows.Close()

	var changes []*model.DocumentChange
	for rows.Next() {
		change := &model.DocumentChange{}
		var payload sql.NullString
		if err := rows.Scan(&change.ID, &change.DocumentID, &change.UserID, &payload, &change.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document change: %w", err)
		}
		if payload.Valid && payload.String != "" {
			change.Payload = json.RawMessage(payload.String)
		}
		changes = append(changes, change)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document changes: %w", err)
	}

	return changes, nil
}

// Exists checks if a document exists.
func (r *DocumentRepository) Exists(ctx context.Context, id string) (bool, error) {
	query := `SELECT 1 FROM documents WHERE id = ? LIMIT 1`

	var exists int
	err := r.db.QueryRowContext(ctx, query, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check document existence: %w", err)
	}

	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	doc := &model.Document{}
	var updatedBy sql.NullString

	err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.Content,
		&doc.Version,
		&doc.CreatedBy,
		&updatedBy,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if updatedBy.Valid {
		doc.UpdatedBy = updatedBy.String
	}
	return doc, nil
}

func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrDocumentNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
