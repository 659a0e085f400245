package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/taskpilot/internal/observability"
)

// DefaultTimeout bounds a single tool invocation.
const DefaultTimeout = 30 * time.Second

// MaxResultBytes is the cap for a serialized tool result to prevent OOM.
const MaxResultBytes = 1 << 20 // 1 MB

// identityArgKeys are argument names that carry user identity. The executor
// strips them from model-supplied arguments; tools read the authenticated
// identity from context instead.
var identityArgKeys = []string{"user_id", "owner_id", "username"}

// FailureKind classifies a failed tool invocation.
type FailureKind string

const (
	// KindUnknownTool means the requested tool is not registered.
	KindUnknownTool FailureKind = "unknown_tool"
	// KindExecutionError covers malformed arguments, validation failures,
	// tool errors, panics and timeouts.
	KindExecutionError FailureKind = "execution_error"
)

// Invocation is a single tool call requested by the model. Arguments is
// the raw JSON payload exactly as the model issued it.
type Invocation struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// Outcome is the result of one tool invocation. Failures are data, not
// errors: every invocation produces an Outcome that is reported back to
// the model.
type Outcome struct {
	Success bool        `json:"success"`
	Data    any         `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    FailureKind `json:"kind,omitempty"`
}

// Content serializes the outcome into the string persisted and sent back
// to the model. Unserializable or oversized results fold into a failure
// payload so the caller always gets valid JSON.
func (o *Outcome) Content() string {
	b, err := json.Marshal(o)
	if err != nil {
		return failureContent(fmt.Sprintf("result not serializable: %v", err))
	}
	if len(b) > MaxResultBytes {
		return failureContent(fmt.Sprintf("result too large (%d bytes)", len(b)))
	}
	return string(b)
}

func failureContent(msg string) string {
	b, _ := json.Marshal(&Outcome{Success: false, Error: msg, Kind: KindExecutionError})
	return string(b)
}

// ExecutorOption configures the Executor.
type ExecutorOption func(*Executor)

// WithTimeout overrides the per-invocation timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMetrics records per-invocation counters and latencies.
func WithMetrics(m *observability.MetricsCollector) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithAnomaly feeds invocation outcomes into the anomaly detector.
func WithAnomaly(a *observability.AnomalyDetector) ExecutorOption {
	return func(e *Executor) {
		e.anomaly = a
	}
}

// Executor runs tool invocations on behalf of an authenticated user.
//
// Execute never returns an error and never panics: lookup failures,
// malformed arguments, tool errors, panics and timeouts all become
// failure Outcomes keyed by call ID.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *observability.MetricsCollector
	anomaly  *observability.AnomalyDetector
}

// NewExecutor creates an executor backed by the given registry.
func NewExecutor(registry *Registry, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		timeout:  DefaultTimeout,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs all invocations concurrently and returns exactly one
// Outcome per call ID. userID is the authenticated identity; it is
// passed to tools via context and takes precedence over any identity
// fields the model put in the arguments.
func (e *Executor) Execute(ctx context.Context, userID string, invocations []Invocation) map[string]*Outcome {
	ctx = ContextWithUserID(ctx, userID)

	results := make(map[string]*Outcome, len(invocations))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, inv := range invocations {
		wg.Add(1)
		go func(inv Invocation) {
			defer wg.Done()
			out := e.run(ctx, userID, inv)
			mu.Lock()
			results[inv.CallID] = out
			mu.Unlock()
		}(inv)
	}
	wg.Wait()

	return results
}

// run executes a single invocation. It always returns a non-nil Outcome.
func (e *Executor) run(ctx context.Context, userID string, inv Invocation) (out *Outcome) {
	start := time.Now()
	defer func() { e.record(inv.Name, start, out) }()
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "tool panicked",
				slog.String("tool", inv.Name),
				slog.Any("panic", r),
			)
			out = &Outcome{
				Success: false,
				Error:   fmt.Sprintf("tool panicked: %v", r),
				Kind:    KindExecutionError,
			}
		}
	}()

	tool := e.registry.Get(inv.Name)
	if tool == nil {
		e.logger.WarnContext(ctx, "unknown tool requested",
			slog.String("tool", inv.Name),
			slog.String("user_id", userID),
		)
		return &Outcome{
			Success: false,
			Error:   fmt.Sprintf("unknown tool: %s", inv.Name),
			Kind:    KindUnknownTool,
		}
	}

	args := map[string]any{}
	if len(inv.Arguments) > 0 {
		if err := json.Unmarshal(inv.Arguments, &args); err != nil {
			return &Outcome{
				Success: false,
				Error:   fmt.Sprintf("invalid arguments: malformed JSON: %v", err),
				Kind:    KindExecutionError,
			}
		}
	}
	e.stripIdentityArgs(ctx, inv.Name, args, userID)

	if err := tool.Validate(args); err != nil {
		return &Outcome{
			Success: false,
			Error:   fmt.Sprintf("invalid arguments: %v", err),
			Kind:    KindExecutionError,
		}
	}

	e.logger.InfoContext(ctx, "executing tool",
		slog.String("tool", inv.Name),
		slog.String("user_id", userID),
		slog.String("call_id", inv.CallID),
	)

	tctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	data, err := tool.Execute(tctx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(tctx.Err(), context.DeadlineExceeded) {
			e.logger.WarnContext(ctx, "tool timed out",
				slog.String("tool", inv.Name),
				slog.Duration("timeout", e.timeout),
			)
			return &Outcome{
				Success: false,
				Error:   fmt.Sprintf("tool timed out after %s", e.timeout),
				Kind:    KindExecutionError,
			}
		}
		e.logger.WarnContext(ctx, "tool execution failed",
			slog.String("tool", inv.Name),
			slog.String("error", err.Error()),
		)
		return &Outcome{
			Success: false,
			Error:   err.Error(),
			Kind:    KindExecutionError,
		}
	}

	return &Outcome{Success: true, Data: data}
}

// record emits execution metrics for one invocation. Unknown tool names
// come from the model and are unbounded, so they share one label value.
func (e *Executor) record(name string, start time.Time, out *Outcome) {
	status := "success"
	label := name
	if !out.Success {
		status = string(out.Kind)
		if out.Kind == KindUnknownTool {
			label = "unknown"
		}
	}
	if e.metrics != nil {
		e.metrics.ToolExecutionsTotal.WithLabelValues(label, status).Inc()
		e.metrics.ToolExecutionDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}
	if e.anomaly != nil && out.Kind != KindUnknownTool {
		if out.Success {
			e.anomaly.RecordSuccess("tool_" + name)
		} else {
			e.anomaly.RecordError("tool_" + name)
		}
	}
}

// stripIdentityArgs removes identity fields from decoded arguments. Model
// output is untrusted; the authenticated user ID travels in the context,
// so a spoofed "user_id" argument can never redirect a tool to another
// user's data.
func (e *Executor) stripIdentityArgs(ctx context.Context, toolName string, args map[string]any, userID string) {
	for _, key := range identityArgKeys {
		if supplied, ok := args[key]; ok {
			if s, _ := supplied.(string); s != userID {
				e.logger.WarnContext(ctx, "model supplied identity argument, ignoring",
					slog.String("tool", toolName),
					slog.String("key", key),
					slog.String("user_id", userID),
				)
				if e.metrics != nil {
					e.metrics.SecurityDenialsTotal.WithLabelValues("tool_identity").Inc()
				}
			}
			delete(args, key)
		}
	}
}
