// Package agent implements the conversational turn loop. The Runner is
// stateless: every turn re-derives conversation state from the store, so
// any process holding the same database can serve any user's next turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/taskpilot/internal/chat"
	"github.com/jkaninda/taskpilot/internal/llm"
	"github.com/jkaninda/taskpilot/internal/observability"
	"github.com/jkaninda/taskpilot/internal/tools"
)

// ErrModelUnavailable indicates the language model could not be reached or
// answered with a transport-level failure. The turn is retryable: the user
// message is already persisted and nothing fabricated was written.
var ErrModelUnavailable = errors.New("model unavailable")

// DefaultSystemPrompt is used when the configuration does not provide one.
const DefaultSystemPrompt = "You are TaskPilot, a personal task assistant. " +
	"You help the user manage their task list through the available tools. " +
	"When the user asks to add, list, update, complete or delete tasks, call " +
	"the matching tool instead of describing what you would do. Be concise."

// fallbackResponse is returned when a turn ends on a tool round and the
// model produced no final text to show the user.
const fallbackResponse = "Action completed."

// TurnRequest is one user turn addressed to the assistant.
type TurnRequest struct {
	UserID         string
	ConversationID string // empty = start a new conversation
	Message        string
	CorrelationID  string
}

// ToolCallResult summarizes one tool invocation from a processed turn.
type ToolCallResult struct {
	Name    string
	Success bool
}

// TurnResult is the outcome of a processed turn.
type TurnResult struct {
	ConversationID uuid.UUID
	Response       string
	TokensUsed     int
	ToolResults    []ToolCallResult
}

// Config carries the runner's immutable tuning values.
type Config struct {
	SystemPrompt  string        // empty = DefaultSystemPrompt
	HistoryWindow int           // messages per model call; 0 = chat.DefaultWindow
	MaxTokens     int           // 0 = provider default
	ModelTimeout  time.Duration // per model call; 0 = no extra deadline
}

// Agent is the turn-processing surface the gateways consume.
type Agent interface {
	// ProcessTurn runs one full user turn and returns the assistant's
	// final reply.
	ProcessTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error)
}

// Runner drives one conversational turn at a time. All fields are
// assigned during construction and never written afterwards; per-turn
// state lives on the stack and in the store.
type Runner struct {
	provider llm.Provider
	store    chat.Store
	registry *tools.Registry
	executor *tools.Executor
	logger   *slog.Logger
	obs      *observability.Observability // nil = tracing disabled
	cfg      Config
}

var _ Agent = (*Runner)(nil)

// NewRunner creates a runner over the given collaborators.
func NewRunner(provider llm.Provider, store chat.Store, registry *tools.Registry, executor *tools.Executor, logger *slog.Logger) *Runner {
	return &Runner{
		provider: provider,
		store:    store,
		registry: registry,
		executor: executor,
		logger:   logger,
		cfg: Config{
			SystemPrompt:  DefaultSystemPrompt,
			HistoryWindow: chat.DefaultWindow,
		},
	}
}

// WithObservability attaches tracing to the runner.
func (r *Runner) WithObservability(obs *observability.Observability) *Runner {
	r.obs = obs
	return r
}

// WithConfig overrides the runner's tuning values. Zero fields keep
// their defaults.
func (r *Runner) WithConfig(cfg Config) *Runner {
	if cfg.SystemPrompt != "" {
		r.cfg.SystemPrompt = cfg.SystemPrompt
	}
	if cfg.HistoryWindow > 0 {
		r.cfg.HistoryWindow = cfg.HistoryWindow
	}
	if cfg.MaxTokens > 0 {
		r.cfg.MaxTokens = cfg.MaxTokens
	}
	if cfg.ModelTimeout > 0 {
		r.cfg.ModelTimeout = cfg.ModelTimeout
	}
	return r
}

// ProcessTurn runs one full turn: resolve the conversation, persist the
// user message, consult the model, run at most one tool round, and
// persist the final assistant reply.
//
// The user message is durable before the first model call, so a model
// failure loses nothing. Tool failures are data in the conversation, not
// errors from this method.
func (r *Runner) ProcessTurn(ctx context.Context, req *TurnRequest) (result *TurnResult, err error) {
	start := time.Now()
	defer func() { r.recordTurn(start, err) }()

	if r.obs != nil && r.obs.Tracer != nil {
		var span trace.Span
		ctx, span = r.obs.Tracer.Tracer().Start(ctx, "agent.process_turn",
			trace.WithAttributes(
				attribute.String("user_id", req.UserID),
				attribute.String("correlation_id", req.CorrelationID),
			))
		defer span.End()
	}

	if req.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("message is required")
	}

	conv, err := r.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	// Durability before inference: once this returns, the turn survives
	// any model failure.
	userMsg := &chat.Message{
		ConversationID: conv.ID,
		Role:           chat.RoleUser,
		Content:        req.Message,
	}
	if _, err := r.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	history, err := chat.LoadWindow(ctx, r.store, conv, r.cfg.HistoryWindow)
	if err != nil {
		return nil, err
	}
	msgs := toLLMMessages(history)
	toolDefs := tools.ToLLMDefinitions(r.registry)

	resp, err := r.send(ctx, msgs, toolDefs)
	if err != nil {
		return nil, err
	}
	tokens := resp.Usage.InputTokens + resp.Usage.OutputTokens

	if !resp.HasToolCalls() {
		if err := r.appendAssistantText(ctx, conv.ID, resp.Content); err != nil {
			return nil, err
		}
		return &TurnResult{ConversationID: conv.ID, Response: resp.Content, TokensUsed: tokens}, nil
	}

	// One tool round. The assistant's tool-call payload is persisted
	// exactly as issued, atomically with every result, so history never
	// holds a call without its answers.
	r.logger.InfoContext(ctx, "executing tool calls",
		slog.Int("tool_calls", len(resp.ToolCalls)),
		slog.String("conversation_id", conv.ID.String()),
		slog.String("correlation_id", req.CorrelationID),
	)

	invocations := make([]tools.Invocation, len(resp.ToolCalls))
	for i, call := range resp.ToolCalls {
		invocations[i] = tools.Invocation{CallID: call.ID, Name: call.Name, Arguments: call.Arguments}
	}
	outcomes := r.executor.Execute(ctx, req.UserID, invocations)

	assistantMsg := &chat.Message{
		ConversationID: conv.ID,
		Role:           chat.RoleAssistant,
		Content:        resp.Content,
		ToolCalls:      toChatToolCalls(resp.ToolCalls),
	}
	batch := []*chat.Message{assistantMsg}
	toolResults := make([]ToolCallResult, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		out := outcomes[call.ID]
		batch = append(batch, &chat.Message{
			ConversationID: conv.ID,
			Role:           chat.RoleTool,
			Content:        out.Content(),
			ToolCallID:     call.ID,
			ToolName:       call.Name,
		})
		toolResults = append(toolResults, ToolCallResult{Name: call.Name, Success: out.Success})
	}
	if err := r.store.AppendMessages(ctx, conv.ID, batch); err != nil {
		return nil, fmt.Errorf("persisting tool round: %w", err)
	}

	// Second model call sees the tool results.
	msgs = append(msgs, toLLMMessages(batch)...)
	final, err := r.send(ctx, msgs, toolDefs)
	if err != nil {
		return nil, err
	}
	tokens += final.Usage.InputTokens + final.Usage.OutputTokens

	finalText := final.Content
	if final.HasToolCalls() {
		// The turn's single tool round is spent. Whatever text came
		// along is the answer; the unexecuted call directives are not
		// persisted, which keeps history free of calls without results.
		r.logger.WarnContext(ctx, "model requested tools after tool round, treating as final",
			slog.String("conversation_id", conv.ID.String()),
			slog.Int("ignored_calls", len(final.ToolCalls)),
		)
	}
	if strings.TrimSpace(finalText) == "" {
		finalText = fallbackResponse
	}
	if err := r.appendAssistantText(ctx, conv.ID, finalText); err != nil {
		return nil, err
	}

	return &TurnResult{
		ConversationID: conv.ID,
		Response:       finalText,
		TokensUsed:     tokens,
		ToolResults:    toolResults,
	}, nil
}

// resolveConversation creates a conversation for a blank id and enforces
// ownership for an existing one. A conversation owned by someone else is
// reported as not found; existence is not disclosed across users.
func (r *Runner) resolveConversation(ctx context.Context, req *TurnRequest) (*chat.Conversation, error) {
	if req.ConversationID == "" {
		conv, err := r.store.CreateConversation(ctx, req.UserID, "")
		if err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
		r.logger.InfoContext(ctx, "conversation created",
			slog.String("conversation_id", conv.ID.String()),
			slog.String("user_id", req.UserID),
		)
		return conv, nil
	}

	id, err := uuid.Parse(req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a conversation id", chat.ErrConversationNotFound, req.ConversationID)
	}

	conv, err := r.store.GetConversation(ctx, id, req.UserID)
	if err != nil {
		if errors.Is(err, chat.ErrForbidden) {
			r.logger.WarnContext(ctx, "conversation access denied",
				slog.String("conversation_id", id.String()),
				slog.String("user_id", req.UserID),
				slog.String("correlation_id", req.CorrelationID),
			)
			if r.obs != nil && r.obs.Metrics != nil {
				r.obs.Metrics.SecurityDenialsTotal.WithLabelValues("conversation").Inc()
			}
			return nil, fmt.Errorf("%w: %s", chat.ErrConversationNotFound, id)
		}
		return nil, err
	}
	return conv, nil
}

// recordTurn emits per-turn metrics.
func (r *Runner) recordTurn(start time.Time, err error) {
	if r.obs == nil || r.obs.Metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.obs.Metrics.TurnsTotal.WithLabelValues(status).Inc()
	r.obs.Metrics.TurnDuration.Observe(time.Since(start).Seconds())
}

// send performs one model call, bounded by the configured timeout.
func (r *Runner) send(ctx context.Context, msgs []llm.Message, toolDefs []llm.ToolDefinition) (*llm.Response, error) {
	if r.cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ModelTimeout)
		defer cancel()
	}

	resp, err := r.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: r.cfg.SystemPrompt,
		Messages:     msgs,
		MaxTokens:    r.cfg.MaxTokens,
		Tools:        toolDefs,
	})
	if err != nil {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		r.logger.ErrorContext(ctx, "model request failed",
			slog.String("provider", r.provider.Name()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return resp, nil
}

func (r *Runner) appendAssistantText(ctx context.Context, conversationID uuid.UUID, content string) error {
	msg := &chat.Message{
		ConversationID: conversationID,
		Role:           chat.RoleAssistant,
		Content:        content,
	}
	if _, err := r.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("persisting assistant message: %w", err)
	}
	return nil
}

// toLLMMessages converts stored history into the provider wire shape.
func toLLMMessages(msgs []*chat.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{
			Role:       toLLMRole(m.Role),
			Content:    m.Content,
			ToolCalls:  toLLMToolCalls(m.ToolCalls),
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		}
	}
	return out
}

func toLLMRole(r chat.Role) llm.Role {
	switch r {
	case chat.RoleAssistant:
		return llm.RoleAssistant
	case chat.RoleSystem:
		return llm.RoleSystem
	case chat.RoleTool:
		return llm.RoleTool
	default:
		return llm.RoleUser
	}
}

func toLLMToolCalls(calls []chat.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

func toChatToolCalls(calls []llm.ToolCall) []chat.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]chat.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = chat.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}
