package ws

import (
	"context"
	"encoding/json"

	"github.com/open-same/collab-hub/internal/model"
)

// Collaborator backs rooms with shared documents. Calls are made from
// connection goroutines, never from the hub loop.
type Collaborator interface {
	// Snapshot returns the document whose id equals roomID.
	// model.ErrDocumentNotFound means the room has no backing document.
	Snapshot(ctx context.Context, roomID string) (*model.Document, error)
	// ContentChanged records a content_change relayed in roomID. It must
	// not block on storage.
	ContentChanged(ctx context.Context, roomID, userID string, data json.RawMessage)
}
