package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaBaseURL = "http://127.0.0.1:11434"

	// GenerateTimeout bounds one inference call.
	GenerateTimeout = 120 * time.Second
	// ProbeTimeout bounds health and model listing calls.
	ProbeTimeout = 5 * time.Second
)

// OllamaClient calls the Ollama HTTP API.
type OllamaClient struct {
	baseURL      string
	httpClient   *http.Client
	probeTimeout time.Duration
}

// OllamaOption customizes an OllamaClient.
type OllamaOption func(*OllamaClient)

// WithHTTPClient replaces the HTTP client used for all calls.
func WithHTTPClient(client *http.Client) OllamaOption {
	return func(c *OllamaClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithGenerateTimeout overrides the inference timeout.
func WithGenerateTimeout(d time.Duration) OllamaOption {
	return func(c *OllamaClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewOllamaClient constructs a client with the provided base URL.
func NewOllamaClient(baseURL string, opts ...OllamaOption) *OllamaClient {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	c := &OllamaClient{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: GenerateTimeout},
		probeTimeout: ProbeTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// CheckHealth reports whether the tags listing answers 200 within the probe timeout.
func (c *OllamaClient) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	resp, err := c.get(ctx, "/api/tags")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the installed model names, or an empty slice on any failure.
func (c *OllamaClient) ListModels(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	resp, err := c.get(ctx, "/api/tags")
	if err != nil {
		return []string{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return []string{}
	}
	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return []string{}
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names
}

func (c *OllamaClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func (c *OllamaClient) doJSON(ctx context.Context, path string, payload any, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp ollamaErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return resp.StatusCode, fmt.Errorf("ollama api error: %s", errResp.Error)
		}
		return resp.StatusCode, fmt.Errorf("ollama api error: %s", resp.Status)
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode ollama response: %w", err)
	}
	return resp.StatusCode, nil
}

type ollamaGenerateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}
