package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/pkg/assistant"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

type assistantClient interface {
	Chat(ctx context.Context, history []assistant.Turn, message string) (*assistant.Reply, error)
	Generate(ctx context.Context, prompt string) (*assistant.Reply, error)
}

// AssistantService proxies prompts to the generative model.
type AssistantService struct {
	client    assistantClient
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAssistantService constructs the service. A nil client disables it.
func NewAssistantService(client assistantClient, validate *validator.Validate, logger *zap.Logger) *AssistantService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssistantService{client: client, validator: ensureValidator(validate), logger: logger}
}

// Enabled reports whether a model is configured.
func (s *AssistantService) Enabled() bool {
	return s != nil && s.client != nil
}

// Chat answers message given the prior turns.
func (s *AssistantService) Chat(ctx context.Context, req dto.AssistantChatRequest) (*dto.AssistantReply, error) {
	if !s.Enabled() {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "assistant is not configured")
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid chat payload")
	}
	history := make([]assistant.Turn, len(req.History))
	for i, t := range req.History {
		history[i] = assistant.Turn{Role: t.Role, Text: t.Text}
	}
	reply, err := s.client.Chat(ctx, history, req.Message)
	if err != nil {
		return nil, s.modelError(err, "chat")
	}
	return toAssistantReply(reply), nil
}

// Generate runs a one-shot prompt that may return images.
func (s *AssistantService) Generate(ctx context.Context, req dto.AssistantGenerateRequest) (*dto.AssistantReply, error) {
	if !s.Enabled() {
		return nil, appErrors.Clone(appErrors.ErrUnavailable, "assistant is not configured")
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generate payload")
	}
	reply, err := s.client.Generate(ctx, req.Prompt)
	if err != nil {
		return nil, s.modelError(err, "generate")
	}
	return toAssistantReply(reply), nil
}

func (s *AssistantService) modelError(err error, op string) error {
	if errors.Is(err, assistant.ErrDisabled) {
		return appErrors.Clone(appErrors.ErrUnavailable, "assistant is not configured")
	}
	s.logger.Warn("assistant request failed", zap.String("op", op), zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "assistant request failed")
}

func toAssistantReply(r *assistant.Reply) *dto.AssistantReply {
	out := &dto.AssistantReply{Text: r.Text, Images: make([]dto.AssistantImage, len(r.Images))}
	for i, img := range r.Images {
		out.Images[i] = dto.AssistantImage{MIMEType: img.MIMEType, Data: img.Data}
	}
	return out
}
