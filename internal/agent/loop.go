// Package agent implements the tool-calling control loop: one user
// message in, one assistant reply out, with as many tool rounds in
// between as the model needs and the iteration limit allows.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/marquee-media-agent/internal/llm"
	"github.com/nugget/marquee-media-agent/internal/prompts"
	"github.com/nugget/marquee-media-agent/internal/tools"
	"github.com/nugget/marquee-media-agent/internal/usage"
)

// DefaultMaxIterations bounds tool rounds per user message.
const DefaultMaxIterations = 4

// levelTrace mirrors config.LevelTrace.
const levelTrace = slog.Level(-8)

// ToolExecutor is the subset of *tools.Registry the loop uses.
type ToolExecutor interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, name, argsJSON string) (string, error)
}

// History is the conversation store.
type History interface {
	AddUser(id, content string)
	AddAssistant(id, content string)
	Tail(id string) []llm.Message
}

// UsageRecorder receives one row per LLM call.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// ContextProvider adds dynamic text to the system prompt.
type ContextProvider interface {
	GetContext(ctx context.Context, userMessage string) (string, error)
}

// PreferenceSource renders the household preference document for the
// prompt. *preferences.Store satisfies it.
type PreferenceSource interface {
	Context(ctx context.Context) string
}

// Response is the outcome of one Process call.
type Response struct {
	ConversationID string `json:"conversation_id"`
	RequestID      string `json:"request_id"`
	Content        string `json:"content"`
	Model          string `json:"model"`
	Iterations     int    `json:"iterations"`
	ToolCalls      int    `json:"tool_calls"`
	InputTokens    int    `json:"input_tokens"`
	OutputTokens   int    `json:"output_tokens"`
}

// Loop is the core agent execution loop.
type Loop struct {
	logger        *slog.Logger
	llm           llm.Client
	tools         ToolExecutor
	history       History
	usage         UsageRecorder
	context       ContextProvider
	preferences   PreferenceSource
	talents       string
	model         string
	provider      string
	maxIterations int
	now           func() time.Time

	convLocks sync.Map // conversation id -> *sync.Mutex
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(loop *Loop) {
		if l != nil {
			loop.logger = l
		}
	}
}

// WithUsage records every LLM call.
func WithUsage(u UsageRecorder) Option {
	return func(l *Loop) { l.usage = u }
}

// WithContextProvider adds per-turn system prompt context.
func WithContextProvider(p ContextProvider) Option {
	return func(l *Loop) { l.context = p }
}

// WithPreferences includes the household preferences in every prompt.
func WithPreferences(p PreferenceSource) Option {
	return func(l *Loop) { l.preferences = p }
}

// WithTalents sets the talent guidance included in every system prompt.
func WithTalents(talents string) Option {
	return func(l *Loop) { l.talents = talents }
}

// WithMaxIterations bounds tool rounds. Values below 1 keep the default.
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithProvider sets the provider label stored in usage rows.
func WithProvider(p string) Option {
	return func(l *Loop) { l.provider = p }
}

// WithClock overrides the clock used for the prompt timestamp.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// NewLoop creates a new agent loop.
func NewLoop(client llm.Client, model string, registry ToolExecutor, history History, opts ...Option) *Loop {
	l := &Loop{
		logger:        slog.Default(),
		llm:           client,
		tools:         registry,
		history:       history,
		model:         model,
		maxIterations: DefaultMaxIterations,
		now:           time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Model returns the configured model name.
func (l *Loop) Model() string { return l.model }

// generateRequestID returns a short id for correlating log lines and
// usage rows of one turn.
func generateRequestID() string {
	return "r_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (l *Loop) lock(conversationID string) func() {
	v, _ := l.convLocks.LoadOrStore(conversationID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Process handles one user message and returns the assistant reply.
// Turns within one conversation are serialized. The returned error is
// non-nil only when the model could not be reached or a tool binding is
// missing; ErrorReply renders it for people.
func (l *Loop) Process(ctx context.Context, conversationID, text string) (*Response, error) {
	if conversationID == "" {
		conversationID = "default"
	}
	requestID := tools.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = generateRequestID()
	}
	ctx = tools.WithRequestID(tools.WithConversationID(ctx, conversationID), requestID)

	unlock := l.lock(conversationID)
	defer unlock()

	log := l.logger.With("conversation_id", conversationID, "request_id", requestID)
	start := time.Now()
	log.Info("agent loop started", "model", l.model, "message_len", len(text))

	l.history.AddUser(conversationID, text)
	messages := append([]llm.Message{{Role: llm.RoleSystem, Content: l.systemPrompt(ctx, text)}}, l.history.Tail(conversationID)...)

	resp := &Response{ConversationID: conversationID, RequestID: requestID, Model: l.model}
	defs := l.tools.Definitions()
	catalog := make(map[string]bool, len(defs))
	for _, d := range defs {
		catalog[d.Name] = true
	}

	var final string
	answered := false
	nudged := false
	for i := 0; i < l.maxIterations; i++ {
		resp.Iterations = i + 1
		out, err := l.chat(ctx, messages, defs, resp, i, false)
		if err != nil {
			log.Error("LLM call failed", "iteration", i, "error", err)
			return nil, err
		}

		if len(out.Message.ToolCalls) == 0 {
			if strings.TrimSpace(out.Message.Content) == "" && i > 0 && !nudged {
				log.Warn("empty model response, nudging", "iteration", i)
				nudged = true
				messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompts.EmptyResponseNudge})
				continue
			}
			final = out.Message.Content
			answered = true
			break
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   out.Message.Content,
			ToolCalls: out.Message.ToolCalls,
		})
		results, err := l.runTools(ctx, log, out.Message.ToolCalls, catalog)
		if err != nil {
			return nil, err
		}
		resp.ToolCalls += len(out.Message.ToolCalls)
		messages = append(messages, results...)
	}

	if !answered {
		log.Info("iteration limit reached, requesting final answer", "iterations", resp.Iterations)
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompts.FinalAnswerPrompt()})
		out, err := l.chat(ctx, messages, nil, resp, resp.Iterations, true)
		if err != nil {
			log.Error("final LLM call failed", "error", err)
			return nil, err
		}
		final = out.Message.Content
	}

	l.history.AddAssistant(conversationID, final)
	if strings.TrimSpace(final) == "" {
		final = prompts.EmptyResponseFallback
	}
	resp.Content = final

	log.Info("agent loop completed",
		"iterations", resp.Iterations,
		"tool_calls", resp.ToolCalls,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", time.Since(start),
	)
	return resp, nil
}

func (l *Loop) systemPrompt(ctx context.Context, userMessage string) string {
	var prefs string
	if l.preferences != nil {
		prefs = l.preferences.Context(ctx)
	}
	prompt := prompts.SystemPrompt(l.now(), l.talents, prefs)

	if l.context != nil {
		extra, err := l.context.GetContext(ctx, userMessage)
		if err != nil {
			l.logger.Warn("context provider failed", "error", err)
		}
		if extra = strings.TrimSpace(extra); extra != "" {
			prompt += "\n\n" + extra
		}
	}
	return prompt
}

func (l *Loop) chat(ctx context.Context, messages []llm.Message, defs []llm.ToolDefinition, resp *Response, iteration int, final bool) (*llm.ChatResponse, error) {
	l.logger.Log(ctx, levelTrace, "LLM request", "model", l.model, "messages", len(messages), "tools", len(defs))
	out, err := l.llm.Chat(ctx, l.model, messages, defs)
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}
	resp.InputTokens += out.InputTokens
	resp.OutputTokens += out.OutputTokens
	if out.Model != "" {
		resp.Model = out.Model
	}

	if l.usage != nil {
		rec := usage.Record{
			RequestID:      tools.RequestIDFromContext(ctx),
			ConversationID: tools.ConversationIDFromContext(ctx),
			Model:          resp.Model,
			Provider:       l.provider,
			InputTokens:    out.InputTokens,
			OutputTokens:   out.OutputTokens,
			Iteration:      iteration,
			Final:          final,
		}
		if err := l.usage.Record(context.WithoutCancel(ctx), rec); err != nil {
			l.logger.Warn("failed to record usage", "error", err)
		}
	}
	return out, nil
}

// runTools executes one batch of tool calls in order. Identical calls
// (same name and equivalent arguments) run once and share the result.
func (l *Loop) runTools(ctx context.Context, log *slog.Logger, calls []llm.ToolCall, catalog map[string]bool) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(calls))
	seen := make(map[string]string, len(calls))

	for _, call := range calls {
		key := call.Name + "\x00" + canonicalArgs(call.Arguments)
		result, dup := seen[key]
		switch {
		case dup:
			log.Debug("duplicate tool call in batch", "tool", call.Name, "call_id", call.ID)
		case !catalog[call.Name]:
			log.Warn("model requested unknown tool", "tool", call.Name)
			result = errorResult(fmt.Sprintf("unknown tool %q; use only the tools provided", call.Name))
		default:
			var err error
			result, err = l.tools.Execute(ctx, call.Name, call.Arguments)
			if err != nil {
				var unavailable *tools.ErrToolUnavailable
				if errors.As(err, &unavailable) {
					log.Error("catalog tool has no handler", "tool", call.Name)
					return nil, fmt.Errorf("tool %s: %w", call.Name, err)
				}
				result = errorResult(err.Error())
			}
		}
		seen[key] = result
		out = append(out, llm.Message{
			Role:       llm.RoleTool,
			Content:    result,
			ToolCallID: call.ID,
			Name:       call.Name,
		})
	}
	return out, nil
}

// canonicalArgs normalizes argument JSON so key order and whitespace do
// not defeat duplicate detection. Malformed input is compared verbatim.
func canonicalArgs(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || s == "null" {
		return "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return s
	}
	return string(b)
}

func errorResult(msg string) string {
	b, _ := json.Marshal(map[string]any{"success": false, "error": msg})
	return string(b)
}

// ErrorReply turns a Process error into a sentence for the user.
func ErrorReply(err error) string {
	var unavailable *tools.ErrToolUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "That took too long to answer. Please try again in a moment."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled before I could answer."
	case errors.As(err, &unavailable):
		return "I'm not set up correctly to do that right now. Please let whoever runs me know."
	default:
		return "I couldn't reach the language model just now. Please try again in a moment."
	}
}
