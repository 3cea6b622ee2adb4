package openai

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

	"github.com/danielpatrickdp/prompt-compliance/internal/provider"
)

// #region config

// Config describes an OpenAI-compatible endpoint.
type Config struct {
	BaseURL        string  // e.g. https://api.openai.com/v1
	APIKey         string  // sent as a bearer token when set
	ChatModel      string  // model for structured evaluation
	EmbeddingModel string  // model for embeddings
	Dimensions     int     // requested embedding size, 0 = model default
	Temperature    float64 // sampling temperature for evaluation
}

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "https://api.openai.com/v1"

// #endregion config

// #region client

// Client talks to the chat completions and embeddings endpoints.
// It performs no retries; failures worth retrying are marked transient.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a client. A nil httpClient gets one with a 60s timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// #endregion client

// #region wire-types

type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaFormat `json:"json_schema"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// #endregion wire-types

// #region embed

// Embed implements provider.Embedder.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embeddingResponse
	err := c.post(ctx, "/embeddings", embeddingRequest{
		Model:      c.cfg.EmbeddingModel,
		Input:      text,
		Dimensions: c.cfg.Dimensions,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("embed: response has no embedding")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// #endregion embed

// #region evaluate

// EvaluateStructured implements provider.Reasoner using a strict json_schema
// response format. The message content is returned unparsed.
func (c *Client) EvaluateStructured(ctx context.Context, req provider.ReasoningRequest) ([]byte, error) {
	user, err := userMessage(req)
	if err != nil {
		return nil, err
	}
	var resp chatResponse
	err = c.post(ctx, "/chat/completions", chatRequest{
		Model: c.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: req.Instructions},
			{Role: "user", Content: user},
		},
		Temperature: c.cfg.Temperature,
		ResponseFormat: responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaFormat{
				Name:   req.SchemaName,
				Strict: true,
				Schema: req.Schema,
			},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("evaluate: response has no choices")
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return nil, fmt.Errorf("evaluate: model refused: %s", msg.Refusal)
	}
	return []byte(msg.Content), nil
}

// userMessage renders the prompt and numbered policies as one JSON document.
func userMessage(req provider.ReasoningRequest) (string, error) {
	b, err := json.Marshal(struct {
		Prompt   string                   `json:"prompt"`
		Policies []provider.PolicyContext `json:"policies"`
	}{req.Prompt, req.Policies})
	if err != nil {
		return "", fmt.Errorf("encode user message: %w", err)
	}
	return string(b), nil
}

// #endregion evaluate

// #region post

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return provider.Transient(fmt.Errorf("request %s: %w", path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
		if retryableStatus(resp.StatusCode) {
			return provider.Transient(err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusRequestTimeout,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// #endregion post
