// Package agent relays song-recommendation prompts to an OpenAI-compatible
// chat completion API.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"musaic/logger"
	"musaic/model"
)

var (
	// ErrEmptyPrompt is returned before any network call when the prompt is blank.
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrUpstream wraps every failure of the completion API.
	ErrUpstream = errors.New("chat completion failed")
)

// RelayConfig contains configuration for the chat relay.
type RelayConfig struct {
	APIBaseURL string
	APIKey     string
	Model      string
	Timeout    time.Duration
}

// Relay forwards a single prompt and returns a single reply. It keeps no history.
type Relay struct {
	config     RelayConfig
	httpClient *http.Client
}

// NewRelay creates a relay with a fixed model selection.
func NewRelay(config RelayConfig) *Relay {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Model == "" {
		config.Model = "gpt-4"
	}
	config.APIBaseURL = strings.TrimRight(config.APIBaseURL, "/")
	return &Relay{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Model returns the model every request is sent with.
func (r *Relay) Model() string {
	return r.config.Model
}

// Reply sends prompt verbatim as one user message and returns the first
// choice's content.
func (r *Relay) Reply(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if r.config.APIKey == "" {
		return "", fmt.Errorf("%w: api key not configured", ErrUpstream)
	}

	reqBody := model.OpenAIChatRequest{
		Model:    r.config.Model,
		Messages: []model.OpenAIChatMessage{{Role: "user", Content: prompt}},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal request: %v", ErrUpstream, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.APIBaseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.config.APIKey)

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: failed to send request: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: API returned status %d: %s", ErrUpstream, resp.StatusCode, string(body))
	}

	var chatResp model.OpenAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", ErrUpstream, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no response choices returned", ErrUpstream)
	}

	logger.Debug("[ChatRelay] completion received",
		logger.String("model", r.config.Model),
		logger.Duration("elapsed", time.Since(start)))

	return chatResp.Choices[0].Message.Content, nil
}
