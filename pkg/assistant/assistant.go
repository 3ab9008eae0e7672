// Package assistant wraps the Gemini API for chat and one-shot generation.
package assistant

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("assistant is not configured")

// Turn is one prior message of a conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Image is inline image output.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// Reply is the model output.
type Reply struct {
	Text   string  `json:"text"`
	Images []Image `json:"images,omitempty"`
}

// Config configures the client.
type Config struct {
	APIKey            string
	Model             string
	ImageModel        string
	SystemInstruction string
	Timeout           time.Duration
}

// Client talks to Gemini.
type Client struct {
	client *genai.Client
	cfg    Config
	logger *zap.Logger
}

// New dials the API. A blank key yields ErrDisabled.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = cfg.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Client{client: client, cfg: cfg, logger: logger}, nil
}

// Chat continues a conversation with message.
func (c *Client) Chat(ctx context.Context, history []Turn, message string) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	session := c.model(c.cfg.Model).StartChat()
	session.History = toContents(history)
	resp, err := session.SendMessage(ctx, genai.Text(message))
	if err != nil {
		return nil, fmt.Errorf("send chat message: %w", err)
	}
	return replyFrom(resp)
}

// Generate runs a single prompt against the image-capable model.
func (c *Client) Generate(ctx context.Context, prompt string) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.model(c.cfg.ImageModel).GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	return replyFrom(resp)
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) model(name string) *genai.GenerativeModel {
	m := c.client.GenerativeModel(name)
	if c.cfg.SystemInstruction != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(c.cfg.SystemInstruction)}}
	}
	return m
}

func toContents(history []Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		role := "user"
		if turn.Role == "model" || turn.Role == "assistant" {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(turn.Text)}})
	}
	return out
}

func replyFrom(resp *genai.GenerateContentResponse) (*Reply, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return nil, fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return nil, errors.New("empty model response")
	}
	reply := &Reply{}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.Blob:
			reply.Images = append(reply.Images, Image{
				MIMEType: p.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(p.Data),
			})
		}
	}
	reply.Text = text.String()
	return reply, nil
}
