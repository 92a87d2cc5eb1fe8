package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kanban/internal/kanban/model"
	"kanban/internal/kanban/repository"
	"kanban/pkg/logger"

	"github.com/go-chi/chi/v5/middleware"
)

// Journal records update attempts. A nil Journal disables recording.
type Journal interface {
	Record(ctx context.Context, rev model.Revision) error
	History(ctx context.Context, projectID string, limit int) ([]model.Revision, error)
}

// Notifier is told about every applied update.
type Notifier interface {
	Publish(projectID string, version int64)
}

type BoardService struct {
	Repo     *repository.BoardRepository
	Journal  Journal
	Notifier Notifier
}

func NewBoardService(repo *repository.BoardRepository, journal Journal, notifier Notifier) *BoardService {
	return &BoardService{Repo: repo, Journal: journal, Notifier: notifier}
}

// GetDocument returns the stored board. Reading a board without a version
// stamps and persists version 1, so the read runs inside the project lock.
func (s *BoardService) GetDocument(ctx context.Context, projectID string) (model.Document, error) {
	unlock := s.Repo.Lock(projectID)
	defer unlock()
	return s.Repo.Read(projectID)
}

// CurrentVersion reports the stored version, or 0 when the board does not
// exist or carries no usable version.
func (s *BoardService) CurrentVersion(projectID string) (int64, error) {
	unlock := s.Repo.Lock(projectID)
	defer unlock()

	doc, _, err := s.Repo.Load(projectID)
	if err != nil {
		return 0, err
	}
	v, _ := doc.Version()
	return v, nil
}

// ApplyUpdate replaces the board when the submitted _version equals the
// stored one and returns the new version (submitted + 1). A board that does
// not exist yet, or has no version, accepts _version 1 as its creation.
func (s *BoardService) ApplyUpdate(ctx context.Context, projectID string, incoming model.Document) (int64, error) {
	raw, ok := incoming[model.VersionKey]
	if !ok || raw == nil {
		return 0, fmt.Errorf("%w: missing %s field", ErrInvalidInput, model.VersionKey)
	}
	clientVersion, ok := model.AsInt(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidInput, model.VersionKey)
	}

	newVersion, at, err := s.compareAndSwap(projectID, clientVersion, incoming)

	rev := model.Revision{
		ProjectID:     projectID,
		ClientVersion: clientVersion,
		RequestID:     middleware.GetReqID(ctx),
		CreatedAt:     at,
	}
	var conflict *ConflictError
	switch {
	case err == nil:
		rev.Outcome = model.OutcomeApplied
		rev.Version = newVersion
		logger.Sugar.Infof("Updated board %s to version %d", projectID, newVersion)
	case errors.As(err, &conflict):
		rev.Outcome = model.OutcomeConflict
		rev.Version = conflict.ServerVersion
		logger.Sugar.Warnf("Version conflict for project %s. Server version: %d, client version: %d",
			projectID, conflict.ServerVersion, conflict.ClientVersion)
	default:
		return 0, err
	}

	s.record(ctx, rev)
	if err != nil {
		return 0, err
	}
	if s.Notifier != nil {
		s.Notifier.Publish(projectID, newVersion)
	}
	return newVersion, nil
}

// compareAndSwap also returns the time of the decision, taken under the
// project lock so journal timestamps follow version order.
func (s *BoardService) compareAndSwap(projectID string, clientVersion int64, incoming model.Document) (int64, time.Time, error) {
	unlock := s.Repo.Lock(projectID)
	defer unlock()

	current, _, err := s.Repo.Load(projectID)
	if err != nil {
		return 0, time.Time{}, err
	}

	serverVersion, versioned := current.Version()
	if !versioned && clientVersion == 1 {
		serverVersion = 1
	}
	if serverVersion != clientVersion {
		conflict := &ConflictError{ProjectID: projectID, ServerVersion: serverVersion, ClientVersion: clientVersion}
		return 0, time.Now().UTC(), conflict
	}

	newVersion := clientVersion + 1
	incoming.SetVersion(newVersion)
	if err := s.Repo.Write(projectID, incoming); err != nil {
		return 0, time.Time{}, err
	}
	return newVersion, time.Now().UTC(), nil
}

// History lists journaled update attempts, newest first.
func (s *BoardService) History(ctx context.Context, projectID string, limit int) ([]model.Revision, error) {
	if s.Journal == nil {
		return nil, ErrJournalDisabled
	}
	return s.Journal.History(ctx, projectID, limit)
}

func (s *BoardService) record(ctx context.Context, rev model.Revision) {
	if s.Journal == nil {
		return
	}
	if err := s.Journal.Record(ctx, rev); err != nil {
		logger.Sugar.Errorf("Failed to journal %s update of project %s: %v", rev.Outcome, rev.ProjectID, err)
	}
}
