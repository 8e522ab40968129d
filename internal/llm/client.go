package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/contract-intel/backend/pkg/apperror"
	"github.com/contract-intel/backend/pkg/circuitbreaker"
	"github.com/contract-intel/backend/pkg/logger"
	"github.com/contract-intel/backend/pkg/retry"
)

const (
	RoleSystem = openai.ChatMessageRoleSystem
	RoleUser   = openai.ChatMessageRoleUser
)

// minTemperature stands in for zero, which the request encoder drops.
const minTemperature = 1e-8

type Message struct {
	Role    string
	Content string
}

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	config.HTTPClient = &http.Client{}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxRequests:      5,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        Retryable,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Retryable:      Retryable,
		Logger:         logger.GetLogger(),
	}

	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = minTemperature
	}

	logger.Info("LLM client initialized",
		zap.String("base_url", config.BaseURL),
		zap.String("model", cfg.Model),
	)

	return &Client{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.Model,
		temperature: temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) request(msgs []Message) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
}

func (c *Client) Complete(ctx context.Context, msgs []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var content string
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			resp, err := c.client.CreateChatCompletion(ctx, c.request(msgs))
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return retry.Permanent(errors.New("completion returned no choices"))
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			content = resp.Choices[0].Message.Content
			return nil
		})
	})
	if err != nil {
		return "", apperror.Upstream("llm.Complete", err)
	}

	return content, nil
}

// Stream forwards each content fragment to onFragment as it arrives. An error
// from onFragment stops the stream and is returned unchanged.
func (c *Client) Stream(ctx context.Context, msgs []Message, onFragment func(string) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := c.request(msgs)
	req.Stream = true

	var stream *openai.ChatCompletionStream
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			var err error
			stream, err = c.client.CreateChatCompletionStream(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to open completion stream: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return apperror.Upstream("llm.Stream", err)
	}
	defer stream.Close()

	fragments := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return apperror.Upstream("llm.Stream", fmt.Errorf("failed to read completion stream: %w", err))
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}

		fragments++
		if err := onFragment(resp.Choices[0].Delta.Content); err != nil {
			return err
		}
	}

	logger.Debug("LLM stream finished", zap.Int("fragments", fragments))

	return nil
}

// CompleteStructured forces a single tool call whose arguments must satisfy
// schema and decodes them into out.
func (c *Client) CompleteStructured(ctx context.Context, prompt string, schema *Schema, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := c.request([]Message{{Role: RoleUser, Content: prompt}})
	req.Tools = []openai.Tool{{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        schema.Name,
			Description: schema.Description,
			Parameters:  schema.Raw(),
		},
	}}
	req.ToolChoice = openai.ToolChoice{
		Type:     openai.ToolTypeFunction,
		Function: openai.ToolFunction{Name: schema.Name},
	}

	var payload string
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			resp, err := c.client.CreateChatCompletion(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to create structured completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return retry.Permanent(errors.New("completion returned no choices"))
			}

			msg := resp.Choices[0].Message
			payload = msg.Content
			for _, call := range msg.ToolCalls {
				if call.Function.Name == schema.Name {
					payload = call.Function.Arguments
					break
				}
			}
			return nil
		})
	})
	if err != nil {
		return apperror.Upstream("llm.CompleteStructured", err)
	}

	if err := schema.Decode([]byte(stripFence(payload)), out); err != nil {
		logger.Warn("Structured output rejected",
			zap.String("schema", schema.Name),
			zap.Error(err),
		)
		return apperror.Upstream("llm.CompleteStructured", err)
	}

	return nil
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
