package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/open-same/collab-hub/internal/auth"
	"github.com/open-same/collab-hub/internal/document"
	"github.com/open-same/collab-hub/internal/model"
)

// DocumentHandler handles document HTTP requests. Documents are the
// durable state behind rooms; a client that lost frames resyncs here.
type DocumentHandler struct {
	documents *document.Service
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(documents *document.Service) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// CreateDocumentRequest is the request body for POST /api/documents.
type CreateDocumentRequest struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content"`
}

// Create handles POST /api/documents - creates a new document.
func (h *DocumentHandler) Create(c *gin.Context) {
	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	identity, _ := auth.IdentityFrom(c)
	doc, err := h.documents.Create(c.Request.Context(), &model.CreateDocumentRequest{
		Title:   req.Title,
		Content: req.Content,
		UserID:  identity.UserID,
	})
	if err != nil {
		if errors.Is(err, model.ErrTitleRequired) {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create document: "+err.Error())
		return
	}

	c.JSON(http.StatusCreated, doc)
}

// List handles GET /api/documents - lists recently updated documents.
func (h *DocumentHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	docs, err := h.documents.List(c.Request.Context(), limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list documents: "+err.Error())
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}

	c.JSON(http.StatusOK, docs)
}

// Get handles GET /api/documents/:id - returns the stored snapshot.
func (h *DocumentHandler) Get(c *gin.Context) {
	docID := c.Param("id")

	doc, err := h.documents.Get(c.Request.Context(), docID)
	if err != nil {
		if errors.Is(err, model.ErrDocumentNotFound) {
			sendError(c, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document "+docID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get document: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, doc)
}

// Changes handles GET /api/documents/:id/changes - returns the change log.
func (h *DocumentHandler) Changes(c *gin.Context) {
	docID := c.Param("id")

	changes, err := h.documents.Changes(c.Request.Context(), docID)
	if err != nil {
		if errors.Is(err, model.ErrDocumentNotFound) {
			sendError(c, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document "+docID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list changes: "+err.Error())
		return
	}
	if changes == nil {
		changes = []*model.DocumentChange{}
	}

	c.JSON(http.StatusOK, changes)
}

// RegisterRoutes registers the document routes on a Gin router group.
func (h *DocumentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.Create)
	rg.GET("/documents", h.List)
	rg.GET("/documents/:id", h.Get)
	rg.GET("/documents/:id/changes", h.Changes)
}
