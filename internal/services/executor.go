package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"promptarena-backend/internal/metrics"
)

// TestReport is the outcome of running a task's test file against generated code.
type TestReport struct {
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output,omitempty"`
}

// Executor runs code in a Piston-compatible sandbox (POST /api/v2/execute).
type Executor struct {
	url     string
	client  *http.Client
	metrics *metrics.Metrics
}

func NewExecutor(url string, timeout time.Duration, m *metrics.Metrics) *Executor {
	return &Executor{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		metrics: m,
	}
}

type executeFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type executeRequest struct {
	Language string        `json:"language"`
	Version  string        `json:"version"`
	Files    []executeFile `json:"files"`
}

type executeResponse struct {
	Run struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
		Output string `json:"output"`
		Code   *int   `json:"code"`
	} `json:"run"`
	Message string `json:"message"`
}

// RunTests executes the test file with the generated files alongside it. The
// test file is sent first so the sandbox uses it as the entry point.
func (e *Executor) RunTests(ctx context.Context, language, testName, testSource string, files map[string]string) (*TestReport, error) {
	req := executeRequest{
		Language: language,
		Version:  "*",
		Files:    []executeFile{{Name: testName, Content: testSource}},
	}
	for name, content := range files {
		if name == testName {
			continue
		}
		req.Files = append(req.Files, executeFile{Name: name, Content: content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		e.metrics.RecordUpstreamError("executor", "run_tests")
		return nil, upstream("executor", "run_tests", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		e.metrics.RecordUpstreamError("executor", "run_tests")
		return nil, upstream("executor", "run_tests", err)
	}

	var decoded executeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		e.metrics.RecordUpstreamError("executor", "run_tests")
		return nil, upstream("executor", "run_tests", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err))
	}
	if resp.StatusCode != http.StatusOK {
		e.metrics.RecordUpstreamError("executor", "run_tests")
		return nil, upstream("executor", "run_tests", fmt.Errorf("status %d: %s", resp.StatusCode, decoded.Message))
	}

	output := decoded.Run.Output
	if output == "" {
		output = decoded.Run.Stdout + decoded.Run.Stderr
	}
	report := ParseTestOutput(output)
	if decoded.Run.Code != nil {
		report.ExitCode = *decoded.Run.Code
	}
	report.Output = output
	return report, nil
}

var (
	pytestCounts   = regexp.MustCompile(`(\d+) (passed|failed|error|errors)\b`)
	jestTotals     = regexp.MustCompile(`Tests:\s+(.*?)\d+ total`)
	jestCount      = regexp.MustCompile(`(\d+) (passed|failed)`)
	unittestRan    = regexp.MustCompile(`Ran (\d+) tests?`)
	unittestFailed = regexp.MustCompile(`FAILED \(([^)]*)\)`)
	unittestCount  = regexp.MustCompile(`(failures|errors)=(\d+)`)
	goTestResult   = regexp.MustCompile(`(?m)^\s*--- (PASS|FAIL):`)
)

// ParseTestOutput counts passing and failing tests in the output of the
// common runners: jest, pytest, unittest and go test. Unknown output yields
// zero counts.
func ParseTestOutput(output string) *TestReport {
	report := &TestReport{}

	if m := jestTotals.FindStringSubmatch(output); m != nil {
		for _, c := range jestCount.FindAllStringSubmatch(m[1], -1) {
			n, _ := strconv.Atoi(c[1])
			if c[2] == "passed" {
				report.Passed += n
			} else {
				report.Failed += n
			}
		}
		return report
	}

	if m := unittestRan.FindStringSubmatch(output); m != nil {
		total, _ := strconv.Atoi(m[1])
		failed := 0
		if f := unittestFailed.FindStringSubmatch(output); f != nil {
			for _, c := range unittestCount.FindAllStringSubmatch(f[1], -1) {
				n, _ := strconv.Atoi(c[2])
				failed += n
			}
		}
		if failed > total {
			failed = total
		}
		report.Passed = total - failed
		report.Failed = failed
		return report
	}

	if matches := goTestResult.FindAllStringSubmatch(output, -1); len(matches) > 0 {
		for _, m := range matches {
			if m[1] == "PASS" {
				report.Passed++
			} else {
				report.Failed++
			}
		}
		return report
	}

	// pytest prints its summary last, e.g. "== 3 passed, 1 failed in 0.12s ==".
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		counts := pytestCounts.FindAllStringSubmatch(lines[i], -1)
		if len(counts) == 0 {
			continue
		}
		for _, c := range counts {
			n, _ := strconv.Atoi(c[1])
			if c[2] == "passed" {
				report.Passed += n
			} else {
				report.Failed += n
			}
		}
		break
	}
	return report
}
