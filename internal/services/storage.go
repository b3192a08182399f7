package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"promptarena-backend/internal/models"
)

// LocalStorage serves task assets from STORAGE_PATH/tasks/<task_id>/.
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{root: root}
}

func (s *LocalStorage) taskPath(taskID uuid.UUID, name string) (string, error) {
	base := filepath.Join(s.root, "tasks", taskID.String())
	full := filepath.Join(base, filepath.FromSlash(name))
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", &ValidationError{Fields: map[string]string{"path": "Invalid file path"}}
	}
	return full, nil
}

// ReadTaskFile returns one asset of a task. A missing file is a NotFoundError.
func (s *LocalStorage) ReadTaskFile(ctx context.Context, taskID uuid.UUID, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.taskPath(taskID, name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &NotFoundError{Message: fmt.Sprintf("Task file %s not found", name)}
	}
	if err != nil {
		return "", fmt.Errorf("failed to read task file: %w", err)
	}
	return string(data), nil
}

// TemplateFiles loads every template file of a task keyed by its path. Files
// listed in the metadata but missing on disk are skipped.
func (s *LocalStorage) TemplateFiles(ctx context.Context, task *models.Task) (map[string]string, error) {
	files := make(map[string]string)
	for _, tf := range task.TemplateFiles() {
		path := tf.Path
		if path == "" {
			path = tf.Name
		}
		content, err := s.ReadTaskFile(ctx, task.ID, path)
		var nf *NotFoundError
		if errors.As(err, &nf) {
			continue
		}
		if err != nil {
			return nil, err
		}
		files[tf.Name] = content
	}
	return files, nil
}
