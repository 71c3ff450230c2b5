package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ndjson-pipeline/internal/models"
)

// Client queries the downstream job runner for run details.
type Client interface {
	GetRun(ctx context.Context, jobName, runID string) (models.JobRunDetails, error)
}

// HTTPClient talks to the runner's management API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient builds a client against the runner API base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// runResponse is the runner's wire shape for a single run.
type runResponse struct {
	State            string            `json:"state"`
	StartedOn        string            `json:"started_on"`
	CompletedOn      string            `json:"completed_on"`
	ExecutionSeconds int64             `json:"execution_seconds"`
	WorkerCount      int               `json:"worker_count"`
	ErrorMessage     string            `json:"error_message"`
	Arguments        map[string]string `json:"arguments"`
}

// GetRun fetches one run. The manifest location and partition key travel in
// the run arguments the coordinator dispatched with.
func (c *HTTPClient) GetRun(ctx context.Context, jobName, runID string) (models.JobRunDetails, error) {
	endpoint := fmt.Sprintf("%s/v1/jobs/%s/runs/%s",
		c.baseURL, url.PathEscape(jobName), url.PathEscape(runID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.JobRunDetails{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.JobRunDetails{}, fmt.Errorf("query run %s: %w", runID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.JobRunDetails{}, fmt.Errorf("query run %s: status %d", runID, resp.StatusCode)
	}

	var body runResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.JobRunDetails{}, fmt.Errorf("decode run %s: %w", runID, err)
	}

	return models.JobRunDetails{
		JobName:          jobName,
		RunID:            runID,
		State:            body.State,
		StartedOn:        body.StartedOn,
		CompletedOn:      body.CompletedOn,
		ExecutionSeconds: body.ExecutionSeconds,
		WorkerCount:      body.WorkerCount,
		WorkerSeconds:    body.ExecutionSeconds * int64(body.WorkerCount),
		ErrorMessage:     body.ErrorMessage,
		ManifestPath:     body.Arguments["manifest_path"],
		Partition:        body.Arguments["date_prefix"],
	}, nil
}
