package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"kanban/internal/kanban/model"
	"kanban/pkg/logger"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("project not found")

const fileExt = ".yaml"

// BoardRepository stores one YAML file per project under a base directory.
// Callers serialize access to a project with Lock; the repository itself
// does not lock inside Read, Load or Write.
type BoardRepository struct {
	dir   string
	locks *keyedMutex
}

func NewBoardRepository(dataDir string) (*BoardRepository, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	return &BoardRepository{dir: dataDir, locks: newKeyedMutex()}, nil
}

func (r *BoardRepository) Dir() string {
	return r.dir
}

// Lock acquires the exclusivity region for one project and returns its release func.
func (r *BoardRepository) Lock(projectID string) func() {
	return r.locks.Lock(projectID)
}

func (r *BoardRepository) Exists(projectID string) bool {
	_, err := os.Stat(r.path(projectID))
	return err == nil
}

// Load reads the stored document as is. Malformed or non-mapping content
// loads as an empty document. The bool reports whether the file exists.
func (r *BoardRepository) Load(projectID string) (model.Document, bool, error) {
	data, err := os.ReadFile(r.path(projectID))
	if errors.Is(err, os.ErrNotExist) {
		return model.Document{}, false, nil
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to read board %s: %v", projectID, err)
		return nil, false, fmt.Errorf("read board %s: %w", projectID, err)
	}

	doc := model.Document{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		logger.Sugar.Warnf("Board %s has malformed content, treating as empty: %v", projectID, err)
		return model.Document{}, true, nil
	}
	if doc == nil {
		doc = model.Document{}
	}
	return doc, true, nil
}

// Read loads the stored document. A document without a _version is stamped
// with version 1 and persisted before it is returned.
func (r *BoardRepository) Read(projectID string) (model.Document, error) {
	doc, exists, err := r.Load(projectID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	if _, ok := doc[model.VersionKey]; !ok {
		doc.SetVersion(1)
		if err := r.Write(projectID, doc); err != nil {
			return nil, err
		}
		logger.Sugar.Infof("Initialized version for project %s in %s", projectID, r.dir)
	}
	return doc, nil
}

// Write replaces the stored document. The content goes to a temp file in the
// same directory first and is renamed over the target, so readers never
// observe a partial file.
func (r *BoardRepository) Write(projectID string, doc model.Document) error {
	data, err := yaml.Marshal(map[string]any(doc))
	if err != nil {
		return fmt.Errorf("encode board %s: %w", projectID, err)
	}

	tmp, err := os.CreateTemp(r.dir, "."+projectID+".*.tmp")
	if err != nil {
		logger.Sugar.Errorf("Failed to create temp file for board %s: %v", projectID, err)
		return fmt.Errorf("write board %s: %w", projectID, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		logger.Sugar.Errorf("Failed to write board %s: %v", projectID, err)
		return fmt.Errorf("write board %s: %w", projectID, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync board %s: %w", projectID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close board %s: %w", projectID, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod board %s: %w", projectID, err)
	}
	if err := os.Rename(tmpName, r.path(projectID)); err != nil {
		os.Remove(tmpName)
		logger.Sugar.Errorf("Failed to replace board %s: %v", projectID, err)
		return fmt.Errorf("replace board %s: %w", projectID, err)
	}
	return nil
}

func (r *BoardRepository) path(projectID string) string {
	return filepath.Join(r.dir, projectID+fileExt)
}
