package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TaskType int

const (
	TaskTypeFrontend TaskType = 0
	TaskTypeBackend  TaskType = 1
	TaskTypeML       TaskType = 2
)

func (t TaskType) String() string {
	switch t {
	case TaskTypeFrontend:
		return "Frontend"
	case TaskTypeBackend:
		return "Backend"
	case TaskTypeML:
		return "ML"
	default:
		return "Unknown"
	}
}

type TemplateFile struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Language string `json:"language"`
}

type Task struct {
	ID                uuid.UUID       `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Type              TaskType        `json:"type"`
	TemplateFilesJSON json.RawMessage `json:"template_files"`
	TestFile          *string         `json:"test_file"`
	EntryPoint        *string         `json:"entry_point"`
	Language          string          `json:"language"`
	CreatedAt         time.Time       `json:"created_at"`
}

// TemplateFiles decodes the template file metadata; malformed metadata yields none.
func (t *Task) TemplateFiles() []TemplateFile {
	var files []TemplateFile
	if len(t.TemplateFilesJSON) == 0 {
		return files
	}
	if err := json.Unmarshal(t.TemplateFilesJSON, &files); err != nil {
		return nil
	}
	return files
}

// TaskSummary is the trimmed task shape returned alongside the global leaderboard.
type TaskSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Type TaskType  `json:"type"`
}
