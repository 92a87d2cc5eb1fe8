package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"kanban/internal/kanban/model"
	"kanban/pkg/logger"

	"github.com/google/uuid"
)

const journalSchema = `CREATE TABLE IF NOT EXISTS board_revisions (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL,
	client_version BIGINT NOT NULL,
	version        BIGINT NOT NULL,
	outcome        TEXT NOT NULL,
	request_id     TEXT NOT NULL,
	created_at     TEXT NOT NULL
)`

// Fixed-width UTC timestamps so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const journalIndex = `CREATE INDEX IF NOT EXISTS board_revisions_project_idx ON board_revisions (project_id, created_at)`

// JournalRepository keeps an append-only trail of update attempts per project.
type JournalRepository struct {
	DB *sql.DB
	// dollar selects $n placeholders (postgres) instead of ?.
	dollar bool
}

func NewJournalRepository(db *sql.DB, postgres bool) *JournalRepository {
	return &JournalRepository{DB: db, dollar: postgres}
}

func (r *JournalRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, journalSchema); err != nil {
		logger.Sugar.Errorf("Failed to create journal table: %v", err)
		return fmt.Errorf("create journal table: %w", err)
	}
	if _, err := r.DB.ExecContext(ctx, journalIndex); err != nil {
		logger.Sugar.Errorf("Failed to create journal index: %v", err)
		return fmt.Errorf("create journal index: %w", err)
	}
	return nil
}

func (r *JournalRepository) Record(ctx context.Context, rev model.Revision) error {
	if rev.ID == "" {
		rev.ID = uuid.NewString()
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}

	_, err := r.DB.ExecContext(ctx, r.rebind(`INSERT INTO board_revisions
		(id, project_id, client_version, version, outcome, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rev.ID, rev.ProjectID, rev.ClientVersion, rev.Version, rev.Outcome, rev.RequestID,
		rev.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		logger.Sugar.Errorf("Failed to record revision for project %s: %v", rev.ProjectID, err)
	}
	return err
}

// History returns the most recent revisions of a project, newest first.
func (r *JournalRepository) History(ctx context.Context, projectID string, limit int) ([]model.Revision, error) {
	rows, err := r.DB.QueryContext(ctx, r.rebind(`SELECT id, project_id, client_version, version, outcome, request_id, created_at
		FROM board_revisions WHERE project_id = ? ORDER BY created_at DESC, version DESC LIMIT ?`), projectID, limit)
	if err != nil {
		logger.Sugar.Errorf("Failed to get history for project %s: %v", projectID, err)
		return nil, err
	}
	defer rows.Close()

	revisions := []model.Revision{}
	for rows.Next() {
		var rev model.Revision
		var createdAt string
		if err := rows.Scan(&rev.ID, &rev.ProjectID, &rev.ClientVersion, &rev.Version, &rev.Outcome, &rev.RequestID, &createdAt); err != nil {
			logger.Sugar.Errorf("Failed to scan revision for project %s: %v", projectID, err)
			return nil, err
		}
		rev.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse revision time %q: %w", createdAt, err)
		}
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

func (r *JournalRepository) rebind(query string) string {
	if !r.dollar {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
