package model

import "errors"

var (
	// ErrTitleRequired is returned when a document creation request is missing the title.
	ErrTitleRequired = errors.New("title is required")

	// ErrDocumentNotFound is returned when a document is not found.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrRoomFull is returned when a room has reached its configured member limit.
	ErrRoomFull = errors.New("room is full")

	// ErrUnauthorized is returned when a request carries no usable identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidToken is returned when a bearer token fails verification.
	ErrInvalidToken = errors.New("invalid token")
)
