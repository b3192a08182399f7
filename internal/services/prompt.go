package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"promptarena-backend/internal/logger"
	"promptarena-backend/internal/models"
	"promptarena-backend/internal/scoring"
)

// CodeAssistant is the LLM side of the pipeline.
type CodeAssistant interface {
	GenerateCode(ctx context.Context, task *models.Task, prompt string, files map[string]string) (*GeneratedCode, error)
	EvaluatePrompt(ctx context.Context, task *models.Task, prompt string) (*PromptEvaluation, error)
	EvaluateCode(ctx context.Context, task *models.Task, files map[string]string) (float64, error)
}

type TestRunner interface {
	RunTests(ctx context.Context, language, testName, testSource string, files map[string]string) (*TestReport, error)
}

type TaskFiles interface {
	ReadTaskFile(ctx context.Context, taskID uuid.UUID, name string) (string, error)
	TemplateFiles(ctx context.Context, task *models.Task) (map[string]string, error)
}

type ChainEnqueuer interface {
	Enqueue(ctx context.Context, jobType string, userID, sessionID uuid.UUID) (bool, error)
}

type TaskGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
}

type SessionGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// PromptResult is returned to the editor after each prompt.
type PromptResult struct {
	Session      *models.Session   `json:"session"`
	Code         map[string]string `json:"code"`
	CodeError    string            `json:"code_error,omitempty"`
	Evaluation   EvaluationStatus  `json:"evaluation"`
	Tests        *TestReport       `json:"tests,omitempty"`
	Score        int               `json:"score"`
	NewBestScore bool              `json:"new_best_score"`
	ChainQueued  bool              `json:"chain_queued"`
}

type EvaluationStatus struct {
	Success bool   `json:"success"`
	Raw     string `json:"raw,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PromptService runs one prompt through code generation, evaluation and test
// execution, then records the result on the session ledger.
type PromptService struct {
	sessions  SessionGetter
	tasks     TaskGetter
	files     TaskFiles
	assistant CodeAssistant
	runner    TestRunner
	ledger    *LedgerService
	queue     ChainEnqueuer
	log       *logger.Logger
}

func NewPromptService(sessions SessionGetter, tasks TaskGetter, files TaskFiles, assistant CodeAssistant, runner TestRunner, ledger *LedgerService, queue ChainEnqueuer, log *logger.Logger) *PromptService {
	return &PromptService{
		sessions:  sessions,
		tasks:     tasks,
		files:     files,
		assistant: assistant,
		runner:    runner,
		ledger:    ledger,
		queue:     queue,
		log:       log,
	}
}

// Submit never fails because a single evaluator failed: a failed generation
// is reported as code_error, a failed evaluation leaves the stored metric
// untouched.
func (s *PromptService) Submit(ctx context.Context, userID, sessionID uuid.UUID, req models.PromptRequest) (*PromptResult, error) {
	if userID == uuid.Nil {
		return nil, &UnauthorizedError{Message: "Authentication required"}
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, &ValidationError{Fields: map[string]string{"prompt": "Prompt is required"}}
	}

	sess, err := s.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && sess.UserID != userID) {
		return nil, &NotFoundError{Message: "Session not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	task, err := s.tasks.GetByID(ctx, sess.TaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	files := req.Files
	if len(files) == 0 {
		if files, err = s.files.TemplateFiles(ctx, task); err != nil {
			return nil, err
		}
	}

	log := s.log.With("session_id", sessionID, "task_id", task.ID)
	result := &PromptResult{}
	var (
		fresh     scoring.FreshValues
		generated *GeneratedCode
	)

	// Generation and prompt evaluation are independent model calls.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		code, err := s.assistant.GenerateCode(gctx, task, prompt, files)
		if err != nil {
			log.Warn("Code generation failed", "error", err)
			result.CodeError = err.Error()
			return nil
		}
		generated = code
		return nil
	})
	g.Go(func() error {
		eval, err := s.assistant.EvaluatePrompt(gctx, task, prompt)
		if err != nil {
			log.Warn("Prompt evaluation failed", "error", err)
			result.Evaluation.Error = err.Error()
			return nil
		}
		fresh.Metrics = eval.Metrics
		result.Evaluation.Success = eval.Success
		result.Evaluation.Raw = eval.Raw
		return nil
	})
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if generated != nil {
		result.Code = mergeFiles(files, generated.Files)
		fresh.PromptTokens = generated.PromptTokens
		fresh.ResponseTokens = generated.ResponseTokens
		result.Tests = s.scoreCode(ctx, log, task, result.Code, &fresh)
	} else {
		result.Code = files
	}

	recorded, err := s.ledger.Record(ctx, Submission{
		SessionID: sessionID,
		CallerID:  userID,
		Prompt:    &prompt,
		Fresh:     fresh,
		Source:    SourcePrompt,
	})
	if err != nil {
		return nil, err
	}
	result.Session = recorded.Session
	result.Score = recorded.Composite
	result.NewBestScore = recorded.NewBestScore

	if len(recorded.Session.Prompts) >= 2 && s.queue != nil {
		queued, err := s.queue.Enqueue(ctx, models.JobTypePromptChaining, userID, sessionID)
		if err != nil {
			log.Warn("Failed to enqueue prompt-chaining job", "error", err)
		}
		result.ChainQueued = queued
	}
	return result, nil
}

// scoreCode runs code evaluation and the task's tests in parallel and fills
// the corresponding fresh values. Either may fail on its own.
func (s *PromptService) scoreCode(ctx context.Context, log *logger.Logger, task *models.Task, files map[string]string, fresh *scoring.FreshValues) *TestReport {
	var report *TestReport
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		score, err := s.assistant.EvaluateCode(gctx, task, files)
		if err != nil {
			log.Warn("Code evaluation failed", "error", err)
			return nil
		}
		fresh.CodeEvaluation = scoring.Float(score)
		return nil
	})

	if task.TestFile != nil && *task.TestFile != "" && s.runner != nil {
		g.Go(func() error {
			source, err := s.files.ReadTaskFile(gctx, task.ID, *task.TestFile)
			if err != nil {
				log.Warn("Test file unavailable", "test_file", *task.TestFile, "error", err)
				return nil
			}
			r, err := s.runner.RunTests(gctx, task.Language, path.Base(*task.TestFile), source, files)
			if err != nil {
				log.Warn("Test execution failed", "error", err)
				return nil
			}
			report = r
			fresh.CodeAccuracy = scoring.CodeAccuracyScore(r.Passed, r.Failed)
			return nil
		})
	}

	g.Wait()
	return report
}

// mergeFiles overlays the generated files on the submitted ones.
func mergeFiles(base, changed map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(changed))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range changed {
		out[k] = v
	}
	return out
}
