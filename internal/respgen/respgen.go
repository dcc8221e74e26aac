// Package respgen generates the patient persona's spoken lines by driving an
// LLM provider with a system prompt built from a Scenario.
package respgen

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/voxbench/callpipeline/internal/scenario"
	"github.com/voxbench/callpipeline/internal/session"
	"github.com/voxbench/callpipeline/pkg/provider/llm"
)

// defaultContextWindowTokens is a conservative shared budget applied across
// every configured LLM backend. Calls are capped well under the point where
// this matters, so the threshold is rarely hit in practice; it exists as
// headroom for unusually long or chatty scenarios rather than a tuned
// per-model limit.
const defaultContextWindowTokens = 8000

// fallbackResponses are returned when the LLM call fails or times out, so a
// call never goes dead air while debugging a flaky model backend.
var fallbackResponses = []string{
	"I'm sorry, could you repeat that?",
	"Um, one moment, let me think about that.",
	"Sorry, I didn't quite catch that.",
}

const (
	defaultOpeningTimeout  = 10 * time.Second
	defaultResponseTimeout = 10 * time.Second
)

// Option configures a Generator during construction.
type Option func(*Generator)

// WithOpeningTimeout overrides the default 10s budget for the opening line.
func WithOpeningTimeout(d time.Duration) Option {
	return func(g *Generator) { g.openingTimeout = d }
}

// WithResponseTimeout overrides the default 10s budget for turn responses.
func WithResponseTimeout(d time.Duration) Option {
	return func(g *Generator) { g.responseTimeout = d }
}

// WithRandSource swaps the fallback-selection source, for deterministic tests.
func WithRandSource(r *rand.Rand) Option {
	return func(g *Generator) { g.rand = r }
}

// Generator produces the patient persona's lines for one call.
type Generator struct {
	llm          llm.Provider
	systemPrompt string
	patientName  string
	goal         string

	openingTimeout  time.Duration
	responseTimeout time.Duration
	rand            *rand.Rand
	contextMgr      *session.ContextManager

	mu               sync.Mutex
	openingDelivered bool
}

// New builds a Generator for the given scenario and LLM backend. The system
// prompt is fixed for the lifetime of the Generator.
func New(s scenario.Scenario, provider llm.Provider, opts ...Option) *Generator {
	s.Normalize()
	g := &Generator{
		llm:             provider,
		systemPrompt:    buildSystemPrompt(s),
		patientName:     s.PatientName,
		goal:            s.Goal,
		openingTimeout:  defaultOpeningTimeout,
		responseTimeout: defaultResponseTimeout,
		rand:            rand.New(rand.NewSource(time.Now().UnixNano())),
		contextMgr: session.NewContextManager(session.ContextManagerConfig{
			MaxTokens:  defaultContextWindowTokens,
			Summariser: session.NewLLMSummariser(provider),
		}),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// OpeningLine generates the patient's first line after the agent answers.
// Calling it more than once is a no-op returning an empty string, matching
// the once-only opening delivery of the donor implementation.
func (g *Generator) OpeningLine(ctx context.Context) string {
	g.mu.Lock()
	if g.openingDelivered {
		g.mu.Unlock()
		return ""
	}
	g.openingDelivered = true
	g.mu.Unlock()

	req := llm.CompletionRequest{
		SystemPrompt: g.systemPrompt,
		Messages: []llm.Message{{
			Role: "user",
			Content: "The medical office AI just answered the phone. " +
				"What do you say first? Remember to stay in character.",
		}},
	}

	text, err := g.complete(ctx, g.openingTimeout, req)
	if err != nil {
		return fmt.Sprintf("Hi, my name is %s. %s.", g.patientName, g.goal)
	}
	return text
}

// Respond generates the patient's next line given the conversation history
// so far (already role-mapped: agent→user, patient→assistant). history is
// re-fed into the Generator's [session.ContextManager] on every call, which
// keeps the message list passed to the LLM within budget by summarising the
// oldest turns once the running conversation grows too large to send whole.
func (g *Generator) Respond(ctx context.Context, history []llm.Message) string {
	g.contextMgr.Reset()
	if err := g.contextMgr.AddMessages(ctx, history...); err != nil {
		slog.Warn("respgen: context summarisation failed, sending full history", "err", err)
	}

	req := llm.CompletionRequest{
		SystemPrompt: g.systemPrompt,
		Messages:     g.contextMgr.Messages(),
	}

	text, err := g.complete(ctx, g.responseTimeout, req)
	if err != nil {
		return g.fallback()
	}
	return text
}

func (g *Generator) complete(ctx context.Context, timeout time.Duration, req llm.CompletionRequest) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := g.llm.Complete(cctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (g *Generator) fallback() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fallbackResponses[g.rand.Intn(len(fallbackResponses))]
}
