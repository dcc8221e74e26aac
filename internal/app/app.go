// Package app wires the configured providers, transport server, and health
// endpoints into a single process lifecycle: New creates and
// connects every subsystem, Run serves traffic until the context is
// cancelled, and Shutdown tears everything down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/voxbench/callpipeline/internal/config"
	"github.com/voxbench/callpipeline/internal/conversation"
	"github.com/voxbench/callpipeline/internal/health"
	"github.com/voxbench/callpipeline/internal/mediasession"
	"github.com/voxbench/callpipeline/internal/observe"
	"github.com/voxbench/callpipeline/internal/scenario"
	"github.com/voxbench/callpipeline/internal/session"
	"github.com/voxbench/callpipeline/internal/transport"
	"github.com/voxbench/callpipeline/pkg/memory"
	"github.com/voxbench/callpipeline/pkg/memory/postgres"
	"github.com/voxbench/callpipeline/pkg/provider/llm"
	"github.com/voxbench/callpipeline/pkg/provider/stt"
	"github.com/voxbench/callpipeline/pkg/provider/tts"
	"github.com/voxbench/callpipeline/pkg/provider/vad"
)

// agentSpeakerID is the fixed SpeakerID used when logging the
// agent-under-test's turns to the durable session store; the patient
// persona's turns use the scenario ID instead.
const agentSpeakerID = "agent-under-test"

// ErrNoScenario is returned by New when the configuration names no scenario
// file — the one unrecoverable error kind the session layer itself cannot
// absorb, since a call has no persona to play without one.
var ErrNoScenario = errors.New("app: no scenario configured")

// Providers holds the constructed backend for each pipeline stage. A nil
// field means that stage was never configured; New fails if any of LLM, STT,
// TTS, or VAD is missing, since MediaSession needs all four.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
	VAD vad.Engine
}

// Option configures an App at construction time, primarily for injecting
// test doubles in place of the pieces New would otherwise build itself.
type Option func(*App)

// WithHealthCheckers adds extra readiness checkers alongside the
// transcript-directory checker New derives from cfg.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(a *App) { a.extraCheckers = append(a.extraCheckers, checkers...) }
}

// WithMetrics overrides the [observe.Metrics] instance New would otherwise
// build from the global OTel provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// App owns the full lifecycle of one call pipeline process: the HTTP server
// that exposes the telephony media-stream endpoint plus health routes, the
// shared providers every call's MediaSession is built from, and
// the scenario persona assigned to calls this process accepts.
type App struct {
	cfg       *config.Config
	providers *Providers
	scenario  scenario.Scenario
	metrics   *observe.Metrics

	httpServer   *http.Server
	sessionStore *session.MemoryGuard

	extraCheckers []health.Checker

	sessionsWG sync.WaitGroup

	closers  []func() error
	stopOnce sync.Once
}

// New builds and connects every subsystem: it loads the scenario named by
// cfg.Call.ScenarioPath, wires the media-stream transport handler to spawn a
// MediaSession per accepted connection, and registers health routes. Metrics
// are recorded but no metrics route is served. Options are applied before any subsystem is built, so they can
// substitute pieces New would otherwise construct.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := requireProviders(providers); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}

	if cfg.Call.ScenarioPath == "" {
		return nil, ErrNoScenario
	}
	sc, err := scenario.Load(cfg.Call.ScenarioPath)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.scenario = sc

	if cfg.Call.SessionStoreDSN != "" {
		store, err := postgres.NewSessionStore(ctx, cfg.Call.SessionStoreDSN)
		if err != nil {
			return nil, fmt.Errorf("app: session store: %w", err)
		}
		a.sessionStore = session.NewMemoryGuard(store)
		a.closers = append(a.closers, func() error { store.Close(); return nil })
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()

	healthHandler := health.New(a.readinessCheckers()...)
	healthHandler.Register(mux)

	ts := transport.NewServer(a.handleCall, transport.WithInsecureSkipVerify())
	mux.Handle("/stream", ts)

	a.httpServer = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(a.metrics)(mux),
	}

	return a, nil
}

// requireProviders checks that every stage MediaSession depends on was
// configured; a missing one means the call pipeline cannot place a call at
// all, so it is a construction-time error rather than a per-call fallback.
func requireProviders(p *Providers) error {
	if p == nil {
		return errors.New("app: providers must not be nil")
	}
	missing := make([]string, 0, 4)
	if p.LLM == nil {
		missing = append(missing, "llm")
	}
	if p.STT == nil {
		missing = append(missing, "stt")
	}
	if p.TTS == nil {
		missing = append(missing, "tts")
	}
	if p.VAD == nil {
		missing = append(missing, "vad")
	}
	if len(missing) > 0 {
		return fmt.Errorf("app: missing required providers: %v", missing)
	}
	return nil
}

// readinessCheckers builds the /readyz checker list: a writability probe for
// the transcript output directory plus any caller-supplied extras. Provider
// reachability is not polled per-request since the providers are
// request/stream based rather than ping-able; circuit breaker state (when a
// provider is wrapped in [resilience.FallbackGroup]) surfaces persistent
// provider failure as an ordinary provider error on the next call.
func (a *App) readinessCheckers() []health.Checker {
	checkers := []health.Checker{
		{Name: "transcript_dir", Check: a.checkTranscriptDirWritable},
	}
	return append(checkers, a.extraCheckers...)
}

func (a *App) checkTranscriptDirWritable(_ context.Context) error {
	dir := a.cfg.Call.TranscriptDir
	if dir == "" {
		return errors.New("transcript_dir not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %q: %w", dir, err)
	}
	probe := filepath.Join(dir, ".writable-check")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("write %q: %w", dir, err)
	}
	f.Close()
	return os.Remove(probe)
}

// handleCall is the transport.Handler invoked once per accepted
// media-stream connection. It builds a MediaSession scoped to this call,
// runs it to completion, and persists the resulting transcript.
func (a *App) handleCall(ctx context.Context, conn *transport.Conn) {
	a.sessionsWG.Add(1)
	defer a.sessionsWG.Done()

	a.metrics.ActiveSessions.Add(ctx, 1)
	defer a.metrics.ActiveSessions.Add(ctx, -1)

	voice := tts.VoiceProfile{
		ID:          a.cfg.Call.Voice.VoiceID,
		PitchShift:  a.cfg.Call.Voice.PitchShift,
		SpeedFactor: a.cfg.Call.Voice.SpeedFactor,
	}

	sess, err := mediasession.New(conn, a.scenario, a.cfg.Call,
		a.providers.VAD, a.providers.STT, a.providers.TTS, voice, a.providers.LLM,
		mediasession.WithTranscriptDir(a.cfg.Call.TranscriptDir))
	if err != nil {
		slog.Error("failed to start session", "scenario_id", a.scenario.ID, "err", err)
		_ = conn.CloseWithError("session init failed")
		return
	}

	slog.Info("call started", "scenario_id", a.scenario.ID)
	snap := sess.Run(ctx)
	for i := 0; i < snap.TurnCount; i++ {
		a.metrics.RecordTurnCompleted(ctx, a.scenario.ID)
	}

	if a.sessionStore != nil {
		a.writeSessionTranscript(ctx, snap)
	}

	path, saved, err := sess.Finish()
	switch {
	case err != nil:
		slog.Warn("failed to save transcript", "scenario_id", a.scenario.ID, "err", err)
	case saved:
		slog.Info("call finished", "scenario_id", a.scenario.ID, "turn_count", snap.TurnCount, "transcript", path)
	default:
		slog.Info("call finished with no turns, transcript not saved", "scenario_id", a.scenario.ID)
	}
}

// writeSessionTranscript mirrors a finished call's turns into the durable
// session store, keyed by the call's scenario ID. Store failures are handled
// entirely by MemoryGuard and never surface here.
func (a *App) writeSessionTranscript(ctx context.Context, snap conversation.Transcript) {
	for _, turn := range snap.Turns {
		entry := memory.TranscriptEntry{
			Text:      turn.Text,
			Timestamp: turn.Timestamp,
		}
		switch turn.Speaker {
		case conversation.SpeakerAgent:
			entry.SpeakerID = agentSpeakerID
			entry.Role = "user"
		case conversation.SpeakerPatient:
			entry.SpeakerID = snap.ScenarioID
			entry.Role = "assistant"
		}
		_ = a.sessionStore.WriteEntry(ctx, snap.ScenarioID, entry)
	}
}

// Run starts serving HTTP traffic and blocks until ctx is cancelled, then
// returns ctx.Err(). A listen failure before that point is returned
// immediately instead.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting new connections, waits for in-flight calls to
// finish, then runs teardown closers in registration order. Each step
// respects ctx's deadline; if it is exceeded mid-loop, Shutdown stops early
// and returns ctx.Err().
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("app: http shutdown: %w", err)
		}

		done := make(chan struct{})
		go func() {
			a.sessionsWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			shutdownErr = errors.Join(shutdownErr, ctx.Err())
			return
		}

		for _, closer := range a.closers {
			select {
			case <-ctx.Done():
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				shutdownErr = errors.Join(shutdownErr, err)
			}
		}
	})
	return shutdownErr
}
