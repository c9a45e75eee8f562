// Package modelscore fetches per-admission eligibility probabilities from the
// local scoring service. Scores are materialized in full before evaluation
// begins; a service failure with no cached score means "no score available"
// for the affected admissions, never a partial blend.
package modelscore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Client talks to the scoring service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
}

// ClientConfig represents configuration for the scoring service client
type ClientConfig struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
}

// scoreResponse is the JSON body of a single-admission score lookup.
type scoreResponse struct {
	HadmID string  `json:"hadm_id"`
	Score  float64 `json:"score"`
}

// batchScoreRequest is the JSON body of a batch score lookup.
type batchScoreRequest struct {
	HadmIDs []string `json:"hadm_ids"`
}

// batchScoreResponse is the JSON body returned by the batch endpoint. The
// service omits admissions it has no score for.
type batchScoreResponse struct {
	Scores map[string]float64 `json:"scores"`
}

// NewClient creates a new scoring service client
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8500"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}

	return &Client{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// GetScore fetches the probability for one admission.
func (c *Client) GetScore(ctx context.Context, hadmID string) (float64, error) {
	if hadmID == "" {
		return 0, fmt.Errorf("hadm_id cannot be empty")
	}

	if err := c.rateLimit.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait failed: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/scores/%s", c.baseURL, hadmID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating score request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("score request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("no score for admission %s", hadmID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("scoring service returned %d: %s", resp.StatusCode, string(body))
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return 0, fmt.Errorf("decoding score response: %w", err)
	}
	if sr.Score < 0 || sr.Score > 1 {
		return 0, fmt.Errorf("scoring service returned out-of-range score %f for %s", sr.Score, hadmID)
	}
	return sr.Score, nil
}

// GetScores fetches probabilities for a batch of admissions. Admissions the
// service has no score for are simply absent from the returned map.
func (c *Client) GetScores(ctx context.Context, hadmIDs []string) (map[string]float64, error) {
	if len(hadmIDs) == 0 {
		return map[string]float64{}, nil
	}

	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	body, err := json.Marshal(batchScoreRequest{HadmIDs: hadmIDs})
	if err != nil {
		return nil, fmt.Errorf("encoding batch score request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/scores", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating batch score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("batch score request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("scoring service returned %d: %s", resp.StatusCode, string(respBody))
	}

	var br batchScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("decoding batch score response: %w", err)
	}

	scores := make(map[string]float64, len(br.Scores))
	for hadmID, score := range br.Scores {
		if score < 0 || score > 1 {
			continue
		}
		scores[hadmID] = score
	}
	return scores, nil
}
