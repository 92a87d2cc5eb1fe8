package service

import (
	"errors"
	"fmt"

	"kanban/internal/kanban/repository"
)

var (
	ErrNotFound     = repository.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("version conflict")

	ErrJournalDisabled = errors.New("revision journal is disabled")
)

// ConflictError is returned when the submitted _version does not match the stored one.
type ConflictError struct {
	ProjectID     string
	ServerVersion int64
	ClientVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on project %s: server %d, client %d", e.ProjectID, e.ServerVersion, e.ClientVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
