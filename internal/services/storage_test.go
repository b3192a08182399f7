package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptarena-backend/internal/models"
)

func TestLocalStorage(t *testing.T) {
	root := t.TempDir()
	taskID := uuid.New()
	dir := filepath.Join(root, "tasks", taskID.String())
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "app.js"), []byte("export {}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.test.js"), []byte("test()"), 0o644))

	store := NewLocalStorage(root)
	ctx := context.Background()

	t.Run("reads a nested file", func(t *testing.T) {
		content, err := store.ReadTaskFile(ctx, taskID, "src/app.js")
		require.NoError(t, err)
		assert.Equal(t, "export {}", content)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := store.ReadTaskFile(ctx, taskID, "nope.js")
		var nf *NotFoundError
		assert.True(t, errors.As(err, &nf))
	})

	t.Run("rejects traversal", func(t *testing.T) {
		for _, name := range []string{"../other/secret", "src/../../x", ".."} {
			_, err := store.ReadTaskFile(ctx, taskID, name)
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve), name)
		}
	})

	t.Run("template files skip missing entries", func(t *testing.T) {
		task := &models.Task{
			ID:                taskID,
			TemplateFilesJSON: []byte(`[{"name": "app.js", "path": "src/app.js"}, {"name": "gone.js", "path": "gone.js"}]`),
		}
		files, err := store.TemplateFiles(ctx, task)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"app.js": "export {}"}, files)
	})
}
