// Package document persists the shared documents edited in hub rooms.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-same/collab-hub/internal/config"
	"github.com/open-same/collab-hub/internal/model"
	"github.com/open-same/collab-hub/internal/repository"
)

// change is one relayed content_change awaiting persistence.
type change struct {
	roomID string
	userID string
	data   json.RawMessage
}

// pendingSave is the latest full-content snapshot of a room.
type pendingSave struct {
	content string
	userID  string
}

// Service serves document CRUD and records live edits. Edits are handed to
// a single worker goroutine; full-content snapshots are coalesced per room
// and written after a quiet period.
type Service struct {
	repo     *repository.DocumentRepository
	log      *slog.Logger
	debounce time.Duration

	queue chan change
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewService creates the service and starts its persistence worker.
func NewService(repo *repository.DocumentRepository, cfg config.DocumentConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SaveDebounce <= 0 {
		cfg.SaveDebounce = 250 * time.Millisecond
	}
	if cfg.SaveQueue <= 0 {
		cfg.SaveQueue = 256
	}

	s := &Service{
		repo:     repo,
		log:      logger.With("component", "documents"),
		debounce: cfg.SaveDebounce,
		queue:    make(chan change, cfg.SaveQueue),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Create validates req and stores a new document at version 0.
func (s *Service) Create(ctx context.Context, req *model.CreateDocumentRequest) (*model.Document, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := &model.Document{
		ID:        uuid.New().String(),
		Title:     strings.TrimSpace(req.Title),
		Content:   req.Content,
		CreatedBy: req.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, err
	}

	s.log.Info("document.created", "doc_id", doc.ID, "user_id", req.UserID)
	return doc, nil
}

// Get returns the document with the given id.
func (s *Service) Get(ctx context.Context, id string) (*model.Document, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit documents, most recently updated first.
func (s *Service) List(ctx context.Context, limit int) ([]*model.Document, error) {
	return s.repo.List(ctx, limit)
}

// Changes returns the recorded change log of a document.
func (s *Service) Changes(ctx context.Context, id string) ([]*model.DocumentChange, error) {
	exists, err := s.repo.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, model.ErrDocumentNotFound
	}
	return s.repo.ListChanges(ctx, id)
}

// Snapshot returns the stored document backing roomID.
func (s *Service) Snapshot(ctx context.Context, roomID string) (*model.Document, error) {
	return s.repo.GetByID(ctx, roomID)
}

// ContentChanged queues a relayed edit for persistence. It never blocks;
// edits arriving while the queue is full are dropped.
func (s *Service) ContentChanged(_ context.Context, roomID, userID string, data json.RawMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	select {
	case s.queue <- change{roomID: roomID, userID: userID, data: data}:
	default:
		s.log.Warn("document.queue_full", "room_id", roomID)
	}
}

// Close stops accepting edits and waits for pending ones to be written.
func (s *Service) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Service) run() {
	defer close(s.done)

	ctx := context.Background()
	timer := time.NewTimer(s.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]pendingSave)

	for {
		select {
		case ch, ok := <-s.queue:
			if !ok {
				timer.Stop()
				s.flush(ctx, pending)
				return
			}
			if !s.record(ctx, ch) {
				continue
			}
			if content, ok := contentOf(ch.data); ok {
				pending[ch.roomID] = pendingSave{content: content, userID: ch.userID}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.debounce)
			}
		case <-timer.C:
			s.flush(ctx, pending)
		}
	}
}

// record appends ch to the change log. It reports false when the room has
// no backing document.
func (s *Service) record(ctx context.Context, ch change) bool {
	err := s.repo.AppendChange(ctx, ch.roomID, ch.userID, ch.data)
	if errors.Is(err, model.ErrDocumentNotFound) {
		return false
	}
	if err != nil {
		s.log.Error("document.append_failed", "room_id", ch.roomID, "err", err)
		return false
	}
	return true
}

func (s *Service) flush(ctx context.Context, pending map[string]pendingSave) {
	for roomID, p := range pending {
		if err := s.repo.UpdateContent(ctx, roomID, p.content, p.userID); err != nil {
			s.log.Error("document.save_failed", "room_id", roomID, "err", err)
		} else {
			s.log.Debug("document.saved", "room_id", roomID)
		}
		delete(pending, roomID)
	}
}

// contentOf extracts a full-content snapshot from a content_change payload.
func contentOf(data json.RawMessage) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	var body struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Content == nil {
		return "", false
	}
	return *body.Content, true
}
