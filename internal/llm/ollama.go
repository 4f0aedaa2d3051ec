package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"seedmix/internal/core"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.2"
	ollamaTimeout      = 60 * time.Second
)

type OllamaClient struct {
	config     *core.LLMConfig
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
}

type OllamaRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type OllamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func NewOllamaClient(config *core.LLMConfig, logger *zap.Logger) (*OllamaClient, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}

	return &OllamaClient{
		config:     config,
		logger:     logger,
		httpClient: &http.Client{Timeout: ollamaTimeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (o *OllamaClient) Complete(ctx context.Context, system, user string) (string, error) {
	model := o.config.Model
	if model == "" {
		model = defaultOllamaModel
	}

	reqBody := OllamaRequest{
		Model:  model,
		System: system,
		Prompt: user,
		Stream: false,
		Options: map[string]any{
			"temperature": defaultTemperature,
			"num_predict": maxTokens,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Ollama API call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Ollama API returned status %d", resp.StatusCode)
	}

	var ollamaResp OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return "", fmt.Errorf("failed to decode Ollama response: %w", err)
	}

	o.logger.Debug("Ollama response received", zap.String("model", model))
	return ollamaResp.Response, nil
}
