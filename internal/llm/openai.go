package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rcliao/novel-memory/internal/config"
)

// OpenAI talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAI struct {
	name        string
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// NewOpenAI returns a provider for cfg.
func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	name := cfg.Provider
	if name == "" {
		name = "openai"
	}
	return &OpenAI{
		name:        name,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: clampTemperature(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		client:      &http.Client{Timeout: timeout},
	}
}

func (p *OpenAI) Name() string { return p.name }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenAI) request(msgs []Message, opts ChatOptions, stream bool) chatRequest {
	req := chatRequest{Model: p.model, Messages: msgs, Temperature: p.temperature, MaxTokens: p.maxTokens, Stream: stream}
	if opts.Temperature != nil {
		req.Temperature = clampTemperature(*opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	return req
}

func (p *OpenAI) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s error %d: %s", p.name, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp, nil
}

func (p *OpenAI) Chat(ctx context.Context, msgs []Message, opts ChatOptions) (string, error) {
	resp, err := p.post(ctx, p.request(msgs, opts, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%s error: %s", p.name, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", p.name)
	}
	return out.Choices[0].Message.Content, nil
}

// Stream reads server-sent events until [DONE] or the body ends.
func (p *OpenAI) Stream(ctx context.Context, msgs []Message, opts ChatOptions, emit func(string)) error {
	resp, err := p.post(ctx, p.request(msgs, opts, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}
		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("%s stream error: %s", p.name, chunk.Error.Message)
		}
		for _, c := range chunk.Choices {
			text := c.Delta.Content
			if text == "" {
				text = c.Message.Content
			}
			if text != "" {
				emit(text)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s stream: %w", p.name, err)
	}
	return nil
}

func clampTemperature(t float64) float64 {
	return max(0, min(2, t))
}
