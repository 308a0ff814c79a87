package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"agentrelay/internal/domain"
	"agentrelay/internal/infra/config"
	"agentrelay/internal/infra/tracer"
)

// bedrockConverseAPI abstracts the Bedrock runtime methods for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// BedrockAgent backs the capability with the AWS Bedrock Converse API.
// Conversation history is replayed into each call so the model keeps
// session context.
type BedrockAgent struct {
	name         string
	model        string
	systemPrompt string
	maxTokens    int
	client       bedrockConverseAPI
	history      HistoryStore
	logger       *slog.Logger
}

// NewBedrockAgent creates a Bedrock-backed agent using the default AWS
// credential chain.
func NewBedrockAgent(cfg config.AgentConfig, history HistoryStore, logger *slog.Logger) (*BedrockAgent, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newBedrockAgentWithClient(cfg, bedrockruntime.NewFromConfig(awsCfg), history, logger), nil
}

// newBedrockAgentWithClient injects the runtime client, used by tests.
func newBedrockAgentWithClient(cfg config.AgentConfig, client bedrockConverseAPI, history HistoryStore, logger *slog.Logger) *BedrockAgent {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &BedrockAgent{
		name:         "bedrock-agent",
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    maxTokens,
		client:       client,
		history:      history,
		logger:       logger,
	}
}

func (a *BedrockAgent) Name() string { return a.name }

func (a *BedrockAgent) Initialize(ctx context.Context) error {
	if a.model == "" {
		return errors.New("bedrock agent: model is required")
	}
	a.logger.Info("bedrock agent initialized", "model", a.model)
	return nil
}

func (a *BedrockAgent) Schema() domain.AgentSchema {
	return domain.AgentSchema{
		Name:         a.name,
		Description:  "Conversational agent backed by AWS Bedrock",
		Version:      "1.0.0",
		InputSchema:  chatInputSchema,
		OutputSchema: chatOutputSchema,
	}
}

func (a *BedrockAgent) Process(ctx context.Context, req domain.AgentRequest) (*domain.AgentResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.process",
		trace.WithAttributes(
			tracer.StringAttr("agent.backend", "bedrock"),
			tracer.StringAttr("agent.model", a.model),
		),
	)
	defer span.End()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = MintSessionID()
	}

	input, err := a.buildInput(ctx, sessionID, req.Message)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	output, err := a.client.Converse(ctx, input)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, mapBedrockError(err)
	}

	reply := textFromConverseOutput(output)
	now := time.Now()
	a.remember(ctx, sessionID, req.Message, reply, now)

	tracer.SetOK(span)
	return &domain.AgentResponse{
		Message:   reply,
		SessionID: sessionID,
		Metadata:  map[string]any{"agent": a.name, "model": a.model},
		Timestamp: now,
	}, nil
}

// ProcessStream implements domain.StreamingAgent via ConverseStream. The
// accumulated reply is committed to history when the stream completes.
func (a *BedrockAgent) ProcessStream(ctx context.Context, req domain.AgentRequest) (<-chan domain.StreamDelta, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = MintSessionID()
	}

	input, err := a.buildInput(ctx, sessionID, req.Message)
	if err != nil {
		return nil, err
	}

	streamInput := &bedrockruntime.ConverseStreamInput{
		ModelId:         input.ModelId,
		Messages:        input.Messages,
		System:          input.System,
		InferenceConfig: input.InferenceConfig,
	}

	output, err := a.client.ConverseStream(ctx, streamInput)
	if err != nil {
		return nil, mapBedrockError(err)
	}

	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		stream := output.GetStream()
		defer stream.Close()

		var full strings.Builder
		for evt := range stream.Events() {
			delta := processStreamEvent(evt)
			if delta == nil {
				continue
			}
			full.WriteString(delta.Content)
			select {
			case ch <- *delta:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			a.logger.Error("bedrock stream failed", "error", err)
			select {
			case ch <- domain.StreamDelta{Done: true}:
			case <-ctx.Done():
			}
			return
		}

		a.remember(ctx, sessionID, req.Message, full.String(), time.Now())
	}()

	return ch, nil
}

// buildInput replays session history and appends the new user message.
func (a *BedrockAgent) buildInput(ctx context.Context, sessionID, message string) (*bedrockruntime.ConverseInput, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(a.model),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(a.maxTokens)),
		},
	}

	if a.systemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: a.systemPrompt},
		}
	}

	turns, err := a.history.History(ctx, sessionID, 50)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	for _, turn := range turns {
		role := types.ConversationRoleUser
		if turn.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		input.Messages = append(input.Messages, types.Message{
			Role: role,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: turn.Content},
			},
		})
	}

	input.Messages = append(input.Messages, types.Message{
		Role: types.ConversationRoleUser,
		Content: []types.ContentBlock{
			&types.ContentBlockMemberText{Value: message},
		},
	})

	return input, nil
}

func (a *BedrockAgent) remember(ctx context.Context, sessionID, message, reply string, now time.Time) {
	if err := a.history.Append(ctx, sessionID, Turn{Role: "user", Content: message, CreatedAt: now}); err != nil {
		a.logger.Warn("history append failed", "session_id", sessionID, "error", err)
	}
	if err := a.history.Append(ctx, sessionID, Turn{Role: "assistant", Content: reply, CreatedAt: now}); err != nil {
		a.logger.Warn("history append failed", "session_id", sessionID, "error", err)
	}
}

func textFromConverseOutput(output *bedrockruntime.ConverseOutput) string {
	outMsg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, block := range outMsg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	return sb.String()
}

func processStreamEvent(evt types.ConverseStreamOutput) *domain.StreamDelta {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		if d, ok := e.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
			return &domain.StreamDelta{Content: d.Value}
		}
		return nil
	case *types.ConverseStreamOutputMemberMessageStop:
		return &domain.StreamDelta{Done: true}
	default:
		return nil
	}
}

func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case code == "ThrottlingException" || code == "TooManyRequestsException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case code == "AccessDeniedException" || code == "UnrecognizedClientException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case code == "ValidationException" && strings.Contains(msg, "too long"):
			return fmt.Errorf("%w: %s", domain.ErrContextOverflow, msg)
		}
	}

	return domain.WrapOp("bedrock", err)
}

var (
	_ domain.Agent          = (*BedrockAgent)(nil)
	_ domain.StreamingAgent = (*BedrockAgent)(nil)
)
