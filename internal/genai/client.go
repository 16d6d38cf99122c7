// Package genai is the HTTP client for the text-generation service:
// chat completion, speech-to-text, vision description, and embeddings
// over an OpenAI-compatible API.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/replyflow/replyflow/internal/config"
)

const (
	defaultTimeout    = 45 * time.Second
	transcribeTimeout = 30 * time.Second
)

// Client talks to the generation service. All calls are single-attempt
// and bounded by the client timeout; retry policy belongs to callers.
type Client struct {
	baseURL         string
	apiKey          string
	chatModel       string
	transcribeModel string
	embeddingModel  string
	httpClient      *http.Client
	logger          *slog.Logger
}

// NewClient creates a generation-service client from config.
func NewClient(log *slog.Logger, cfg config.GenAIConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = config.DefaultGenAIBaseURL
	}
	return &Client{
		baseURL:         baseURL,
		apiKey:          cfg.APIKey,
		chatModel:       cfg.ChatModel,
		transcribeModel: cfg.TranscribeModel,
		embeddingModel:  cfg.EmbeddingModel,
		httpClient:      &http.Client{Timeout: timeout},
		logger:          log.With(slog.String("service", "genai")),
	}
}

// --- wire types ---

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type completionRequest struct {
	Model          string        `json:"model"`
	Messages       []wireMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    *float32      `json:"temperature,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat performs a single chat completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	model := req.Model
	if model == "" {
		model = c.chatModel
	}

	messages := make([]wireMessage, 0, len(req.History)+2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, wireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		messages = append(messages, wireMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, userMessage(req.UserText, req.ImageURL))

	body := completionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONResponse {
		body.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	var resp completionResponse
	if err := c.postJSON(ctx, "/chat/completions", body, &resp); err != nil {
		return ChatResult{}, err
	}
	if resp.Error != nil {
		return ChatResult{}, fmt.Errorf("generation service: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return ChatResult{}, fmt.Errorf("generation service returned no choices")
	}
	return ChatResult{
		Text:         strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:        resp.Model,
		FinishReason: resp.Choices[0].FinishReason,
		Usage:        resp.Usage,
	}, nil
}

// Transcribe converts audio bytes to text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if filename == "" {
		filename = "audio.ogg"
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build transcription form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio body: %w", err)
	}
	if err := writer.WriteField("model", c.transcribeModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize form: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("transcription call: %w", err)
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("read transcription response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription status %d: %s", httpResp.StatusCode, truncate(string(data), 200))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// DescribeImage asks the vision endpoint for a textual description.
// The caption, when present, steers the description.
func (c *Client) DescribeImage(ctx context.Context, imageURL, caption string) (string, error) {
	prompt := "Describe the content of this image briefly and factually."
	if strings.TrimSpace(caption) != "" {
		prompt = fmt.Sprintf("The sender captioned this image: %q. Describe the image briefly, taking the caption into account.", caption)
	}
	result, err := c.Chat(ctx, ChatRequest{
		UserText:  prompt,
		ImageURL:  imageURL,
		MaxTokens: 300,
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// Embed returns the embedding vector for a text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body := map[string]any{
		"model": c.embeddingModel,
		"input": text,
	}
	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := c.postJSON(ctx, "/embeddings", body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("embedding service: %s", resp.Error.Message)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding service returned no data")
	}
	return resp.Data[0].Embedding, nil
}

func userMessage(text, imageURL string) wireMessage {
	if imageURL == "" {
		return wireMessage{Role: "user", Content: text}
	}
	imagePart := contentPart{Type: "image_url"}
	imagePart.ImageURL = &struct {
		URL string `json:"url"`
	}{URL: imageURL}
	return wireMessage{Role: "user", Content: []contentPart{
		{Type: "text", Text: text},
		imagePart,
	}}
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("generation service call: %w", err)
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("generation service status %d: %s", httpResp.StatusCode, truncate(string(data), 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
