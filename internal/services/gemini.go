package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"promptarena-backend/internal/logger"
	"promptarena-backend/internal/metrics"
	"promptarena-backend/internal/models"
	"promptarena-backend/internal/scoring"
)

// GeneratedCode is the model's rewrite of the task files for one prompt.
type GeneratedCode struct {
	Files          map[string]string `json:"files"`
	PromptTokens   int               `json:"-"`
	ResponseTokens int               `json:"-"`
}

// PromptEvaluation is the parsed prompt-quality verdict. Success is false when
// the model's JSON could not be parsed and the final score was recovered from
// the raw text instead.
type PromptEvaluation struct {
	Metrics models.PromptMetrics `json:"metrics"`
	Success bool                 `json:"success"`
	Raw     string               `json:"raw,omitempty"`
}

type GeminiService struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	evalModel *genai.GenerativeModel
	rateChan  chan struct{} // Token bucket
	timeout   time.Duration
	metrics   *metrics.Metrics
	log       *logger.Logger
}

type GeminiConfig struct {
	APIKey         string
	Model          string
	ConcurrentReqs int
	Timeout        time.Duration
}

func NewGeminiService(cfg GeminiConfig, m *metrics.Metrics, log *logger.Logger) (*GeminiService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(0.2)
	model.SetTopP(0.95)
	model.ResponseMIMEType = "application/json"

	// Evaluations should be repeatable for the same prompt.
	evalModel := client.GenerativeModel(cfg.Model)
	evalModel.SetTemperature(0)
	evalModel.ResponseMIMEType = "application/json"

	concurrent := cfg.ConcurrentReqs
	if concurrent <= 0 {
		concurrent = 1
	}
	rateChan := make(chan struct{}, concurrent)
	for i := 0; i < concurrent; i++ {
		rateChan <- struct{}{}
	}

	return &GeminiService{
		client:    client,
		model:     model,
		evalModel: evalModel,
		rateChan:  rateChan,
		timeout:   cfg.Timeout,
		metrics:   m,
		log:       log,
	}, nil
}

func (s *GeminiService) Close() {
	s.client.Close()
}

var errRateSlotTimeout = errors.New("timeout waiting for Gemini rate slot")

// acquireRate blocks until a rate slot is available
func (s *GeminiService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Minute):
		return errRateSlotTimeout
	}
}

// geminiError classifies a failed call. Quota exhaustion on either transport
// and a saturated local token bucket are reported as RateLimitError so the
// client backs off; everything else is an UpstreamError.
func geminiError(op string, err error) error {
	var apiErr *googleapi.Error
	switch {
	case errors.Is(err, errRateSlotTimeout):
		return &RateLimitError{Message: "Too many submissions are being scored, please retry shortly"}
	case errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests,
		status.Code(err) == codes.ResourceExhausted:
		return &RateLimitError{Message: "The model quota is exhausted, please retry shortly"}
	}
	return upstream("gemini", op, err)
}

func (s *GeminiService) releaseRate() {
	s.rateChan <- struct{}{}
}

// call runs one rate-limited, timed request and records its outcome.
func (s *GeminiService) call(ctx context.Context, op string, model *genai.GenerativeModel, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	if err := s.acquireRate(ctx); err != nil {
		return nil, geminiError(op, err)
	}
	defer s.releaseRate()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := model.GenerateContent(ctx, parts...)
	s.metrics.ObserveLLM(op, started)
	if err != nil {
		s.metrics.RecordUpstreamError("gemini", op)
		return nil, geminiError(op, err)
	}

	for i, cand := range resp.Candidates {
		if cand.FinishReason != genai.FinishReasonStop && cand.FinishReason != genai.FinishReasonUnspecified {
			s.log.Warn("Gemini stopped early", "operation", op, "candidate", i, "finish_reason", cand.FinishReason.String())
		}
	}
	return resp, nil
}

// GenerateCode asks the model to apply the prompt to the current task files.
func (s *GeminiService) GenerateCode(ctx context.Context, task *models.Task, prompt string, files map[string]string) (*GeneratedCode, error) {
	resp, err := s.call(ctx, "generate_code", s.model, genai.Text(buildCodePrompt(task, prompt, files)))
	if err != nil {
		return nil, err
	}

	raw := extractText(resp)
	generated, err := parseGeneratedCode(raw, task)
	if err != nil {
		s.metrics.RecordUpstreamError("gemini", "generate_code")
		return nil, upstream("gemini", "generate_code", err)
	}
	if usage := resp.UsageMetadata; usage != nil {
		generated.PromptTokens = int(usage.PromptTokenCount)
		generated.ResponseTokens = int(usage.CandidatesTokenCount)
	}
	return generated, nil
}

// EvaluatePrompt scores the prompt on the nine quality criteria. An
// unparseable verdict is not an error as long as a final score can be found
// in the raw text.
func (s *GeminiService) EvaluatePrompt(ctx context.Context, task *models.Task, prompt string) (*PromptEvaluation, error) {
	resp, err := s.call(ctx, "evaluate_prompt", s.evalModel, genai.Text(buildPromptEvaluationPrompt(task, prompt)))
	if err != nil {
		return nil, err
	}

	eval, err := parsePromptEvaluation(extractText(resp))
	if err != nil {
		s.metrics.RecordUpstreamError("gemini", "evaluate_prompt")
		return nil, upstream("gemini", "evaluate_prompt", err)
	}
	if !eval.Success {
		s.log.Warn("Prompt evaluation was not valid JSON, used regex fallback", "task_id", task.ID)
	}
	return eval, nil
}

// EvaluateCode returns the 0-1 code evaluation score for the generated files.
func (s *GeminiService) EvaluateCode(ctx context.Context, task *models.Task, files map[string]string) (float64, error) {
	resp, err := s.call(ctx, "evaluate_code", s.evalModel, genai.Text(buildCodeEvaluationPrompt(task, files)))
	if err != nil {
		return 0, err
	}

	criteria, err := parseCodeEvaluation(extractText(resp))
	if err != nil {
		s.metrics.RecordUpstreamError("gemini", "evaluate_code")
		return 0, upstream("gemini", "evaluate_code", err)
	}
	return scoring.CodeEvaluationScore(criteria), nil
}

// AnalyzePromptChain rates how well the session's prompts build on one
// another, on 0-1.
func (s *GeminiService) AnalyzePromptChain(ctx context.Context, task *models.Task, prompts []string) (float64, error) {
	resp, err := s.call(ctx, "analyze_chain", s.evalModel, genai.Text(buildChainPrompt(task, prompts)))
	if err != nil {
		return 0, err
	}

	score, err := parseChainScore(extractText(resp))
	if err != nil {
		s.metrics.RecordUpstreamError("gemini", "analyze_chain")
		return 0, upstream("gemini", "analyze_chain", err)
	}
	return score, nil
}

// TranscribeAudio turns a spoken prompt into text using the Gemini File API.
func (s *GeminiService) TranscribeAudio(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", &ValidationError{Fields: map[string]string{"audio": "Audio payload is empty"}}
	}

	if err := s.acquireRate(ctx); err != nil {
		return "", geminiError("transcribe", err)
	}
	defer s.releaseRate()

	started := time.Now()
	defer s.metrics.ObserveLLM("transcribe", started)

	file, err := s.client.UploadFile(ctx, "", bytes.NewReader(audio), &genai.UploadFileOptions{
		DisplayName: "prompt-audio",
		MIMEType:    mimeType,
	})
	if err != nil {
		s.metrics.RecordUpstreamError("gemini", "transcribe")
		return "", geminiError("transcribe", fmt.Errorf("upload audio: %w", err))
	}
	defer func() {
		if err := s.client.DeleteFile(context.Background(), file.Name); err != nil {
			s.log.Warn("Failed to delete uploaded audio", "file", file.Name, "error", err)
		}
	}()

	for i := 0; i < 20 && file.State != genai.FileStateActive; i++ {
		current, getErr := s.client.GetFile(ctx, file.Name)
		if getErr != nil {
			return "", upstream("gemini", "transcribe", fmt.Errorf("get file status: %w", getErr))
		}
		file = current
		if file.State == genai.FileStateFailed {
			return "", upstream("gemini", "transcribe", fmt.Errorf("audio processing failed"))
		}
		if file.State == genai.FileStateActive {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
	if file.State != genai.FileStateActive {
		return "", upstream("gemini", "transcribe", fmt.Errorf("audio file did not become active in time"))
	}

	resp, err := s.model.GenerateContent(ctx,
		genai.Text("Transcribe the provided audio verbatim. Return JSON of the form {\"text\": \"...\"}."),
		genai.FileData{MIMEType: mimeType, URI: file.URI},
	)
	if err != nil {
		s.metrics.RecordUpstreamError("gemini", "transcribe")
		return "", geminiError("transcribe", err)
	}

	raw := extractText(resp)
	var out struct {
		Text string `json:"text"`
	}
	if err := decodeModelJSON(raw, &out); err != nil {
		out.Text = raw
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", upstream("gemini", "transcribe", fmt.Errorf("empty transcription"))
	}
	return text, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}

// decodeModelJSON strips markdown fences and any prose around the outermost
// JSON object before decoding.
func decodeModelJSON(raw string, v interface{}) error {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}
	return json.Unmarshal([]byte(text), v)
}

var finalScorePattern = regexp.MustCompile(`(?i)"?final[ _]score"?\s*[:=]\s*"?([0-9]+(?:\.[0-9]+)?)`)

func parsePromptEvaluation(raw string) (*PromptEvaluation, error) {
	var decoded map[string]interface{}
	if err := decodeModelJSON(raw, &decoded); err == nil {
		scores := make(models.PromptMetrics)
		collectNumbers(decoded, scores)
		if _, ok := scores[models.FinalScoreKey]; !ok {
			if len(scores) == 0 {
				return nil, fmt.Errorf("evaluation contained no scores")
			}
			scores[models.FinalScoreKey] = scoring.QualityScore(scores)
		}
		return &PromptEvaluation{Metrics: scores, Success: true}, nil
	}

	match := finalScorePattern.FindStringSubmatch(raw)
	if match == nil {
		return nil, fmt.Errorf("evaluation is neither JSON nor contains a final score")
	}
	score, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid final score %q: %w", match[1], err)
	}
	return &PromptEvaluation{
		Metrics: models.PromptMetrics{models.FinalScoreKey: score},
		Success: false,
		Raw:     raw,
	}, nil
}

// collectNumbers flattens numeric leaves into metrics, normalising keys to
// lower case with spaces ("Final_Score" -> "final score"). Nested objects such
// as {"scores": {...}} are walked.
func collectNumbers(node map[string]interface{}, out models.PromptMetrics) {
	for k, v := range node {
		switch val := v.(type) {
		case float64:
			out[normalizeKey(k)] = val
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				out[normalizeKey(k)] = f
			}
		case map[string]interface{}:
			collectNumbers(val, out)
		}
	}
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.ReplaceAll(k, "_", " ")
	k = strings.ReplaceAll(k, "-", " ")
	return strings.Join(strings.Fields(k), " ")
}

func parseCodeEvaluation(raw string) (map[string]float64, error) {
	var decoded map[string]interface{}
	if err := decodeModelJSON(raw, &decoded); err != nil {
		return nil, fmt.Errorf("code evaluation is not JSON: %w", err)
	}
	criteria := make(models.PromptMetrics)
	collectNumbers(decoded, criteria)

	found := 0
	for _, name := range scoring.CodeCriteria {
		if _, ok := criteria[name]; ok {
			found++
		}
	}
	if found == 0 {
		return nil, fmt.Errorf("code evaluation contained none of the expected criteria")
	}
	return criteria, nil
}

// parseChainScore accepts {"score": x} on 0-1, 0-10 or 0-100 and returns 0-1.
func parseChainScore(raw string) (float64, error) {
	var decoded map[string]interface{}
	if err := decodeModelJSON(raw, &decoded); err != nil {
		return 0, fmt.Errorf("chain analysis is not JSON: %w", err)
	}
	values := make(models.PromptMetrics)
	collectNumbers(decoded, values)

	score, ok := values["score"]
	if !ok {
		score, ok = values["prompt chaining score"]
	}
	if !ok {
		return 0, fmt.Errorf("chain analysis has no score")
	}
	switch {
	case score > 10:
		score /= 100
	case score > 1:
		score /= 10
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

// parseGeneratedCode reads {"files": {"name": "content"}}. A bare code answer
// is accepted as the task's entry point.
func parseGeneratedCode(raw string, task *models.Task) (*GeneratedCode, error) {
	var out GeneratedCode
	if err := decodeModelJSON(raw, &out); err == nil && len(out.Files) > 0 {
		return &out, nil
	}

	code := strings.TrimSpace(raw)
	if code == "" {
		return nil, fmt.Errorf("model returned no code")
	}
	name := "main"
	if task.EntryPoint != nil && *task.EntryPoint != "" {
		name = *task.EntryPoint
	}
	return &GeneratedCode{Files: map[string]string{name: stripFence(code)}}, nil
}

func stripFence(code string) string {
	if !strings.HasPrefix(code, "```") {
		return code
	}
	if nl := strings.Index(code, "\n"); nl >= 0 {
		code = code[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(code), "```"))
}

func writeFiles(b *strings.Builder, files map[string]string) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(b, "--- %s ---\n%s\n\n", name, files[name])
	}
}

func buildCodePrompt(task *models.Task, prompt string, files map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a senior %s engineer working on the challenge %q.\n", task.Type, task.Name)
	fmt.Fprintf(&b, "Challenge description:\n%s\n\n", task.Description)
	b.WriteString("Current files:\n")
	writeFiles(&b, files)
	fmt.Fprintf(&b, "Instruction from the user:\n%s\n\n", prompt)
	b.WriteString(`Apply the instruction to the files. Return ONLY a JSON object of the form
{"files": {"<file name>": "<complete new file content>"}}
including every file you changed. Do not include explanations.`)
	return b.String()
}

func buildPromptEvaluationPrompt(task *models.Task, prompt string) string {
	var criteria []string
	for _, c := range scoring.PromptCriteria {
		criteria = append(criteria, c.Name)
	}
	return fmt.Sprintf(`Evaluate the quality of a prompt written for the %s challenge %q.

Challenge description:
%s

Prompt:
%s

Score each criterion from 0 to 10: %s.
Then give an overall "final score" from 0 to 10.
Return ONLY a JSON object whose keys are the criterion names plus "final score" and whose values are numbers.`,
		task.Type, task.Name, task.Description, prompt, strings.Join(criteria, ", "))
}

func buildCodeEvaluationPrompt(task *models.Task, files map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the following solution to the %s challenge %q.\n\n", task.Type, task.Name)
	writeFiles(&b, files)
	fmt.Fprintf(&b, "Score each criterion from 0 to 10: %s.\n", strings.Join(scoring.CodeCriteria, ", "))
	b.WriteString("Return ONLY a JSON object mapping each criterion name to its number.")
	return b.String()
}

func buildChainPrompt(task *models.Task, prompts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A user solved the challenge %q with this sequence of prompts:\n\n", task.Name)
	for i, p := range prompts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p)
	}
	b.WriteString(`
Rate from 0 to 1 how well the prompts form a coherent chain: each building on
the previous result, refining rather than repeating, and converging on the goal.
Return ONLY {"score": <number>}.`)
	return b.String()
}
