// internal/execution/client.go
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/sirupsen/logrus"
)

// StatusAccepted is the only status that counts as a pass.
const StatusAccepted = "Accepted"

// maxErrorBody caps how much of a failed response is echoed into errors.
const maxErrorBody = 512

type request struct {
	Code     string            `json:"code"`
	Language string            `json:"language"`
	Input    string            `json:"input,omitempty"`
	Tests    []models.TestCase `json:"tests,omitempty"`
}

// TestOutcome is the executor's verdict on a single test case.
type TestOutcome struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Error    string `json:"error,omitempty"`
}

// Result is the executor's reply to a run or a submission.
type Result struct {
	SubmissionID string        `json:"submissionId,omitempty"`
	Status       string        `json:"status"`
	Output       string        `json:"output,omitempty"`
	Tests        []TestOutcome `json:"tests,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Accepted reports whether the code passed.
func (r *Result) Accepted() bool {
	return r != nil && r.Status == StatusAccepted
}

// Client talks JSON over HTTP to the code execution service.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logrus.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     logger,
	}
}

// Run executes code against custom input, or against tests when input is empty.
func (c *Client) Run(ctx context.Context, code, language, input string, tests []models.TestCase) (*Result, error) {
	req := request{Code: code, Language: language, Input: input}
	if input == "" {
		req.Tests = tests
	}
	return c.post(ctx, "/run", req)
}

// Submit judges code against the full test set.
func (c *Client) Submit(ctx context.Context, code, language string, tests []models.TestCase) (*Result, error) {
	return c.post(ctx, "/submit", request{Code: code, Language: language, Tests: tests})
}

func (c *Client) post(ctx context.Context, path string, body request) (*Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", path, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executor %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("executor %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decoding executor %s reply: %w", path, err)
	}
	c.log.WithFields(logrus.Fields{
		"path":     path,
		"language": body.Language,
		"status":   res.Status,
		"duration": time.Since(start),
	}).Debug("execution finished")
	return &res, nil
}
