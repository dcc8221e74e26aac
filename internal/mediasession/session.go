// Package mediasession orchestrates one telephony call end to end: decoding
// inbound audio, detecting turns, transcribing the agent-under-test,
// generating the patient persona's replies, and pacing synthesized audio
// back out — the full lifecycle a transport connection hands off once
// accepted.
package mediasession

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxbench/callpipeline/internal/config"
	"github.com/voxbench/callpipeline/internal/conversation"
	"github.com/voxbench/callpipeline/internal/pacer"
	"github.com/voxbench/callpipeline/internal/respgen"
	"github.com/voxbench/callpipeline/internal/scenario"
	"github.com/voxbench/callpipeline/internal/sttutterance"
	"github.com/voxbench/callpipeline/internal/transcript"
	"github.com/voxbench/callpipeline/internal/transport"
	"github.com/voxbench/callpipeline/internal/ttsframe"
	"github.com/voxbench/callpipeline/internal/turn"
	"github.com/voxbench/callpipeline/pkg/audio"
	"github.com/voxbench/callpipeline/pkg/provider/llm"
	"github.com/voxbench/callpipeline/pkg/provider/stt"
	"github.com/voxbench/callpipeline/pkg/provider/tts"
	"github.com/voxbench/callpipeline/pkg/provider/vad"
	"golang.org/x/sync/errgroup"
)

// vadWindowSamples is the fixed VAD analysis window: 512 samples (32ms) at
// 16kHz, per the VAD contract's fixed-window requirement.
const vadWindowSamples = 512

const pcmSampleRate = 16000

// readTimeout bounds how long the session waits for the next inbound
// message before treating the connection as dead.
const readTimeout = 30 * time.Second

// trialWords are substrings that mark a transcript as a carrier trial/upsell
// announcement artifact rather than real agent speech.
var trialWords = []string{"trial", "twilio", "upgrade", "account"}

// goodbyeWords mark the patient's line as a call-ending farewell.
var goodbyeWords = []string{"goodbye", "bye", "thank you, goodbye", "have a good"}

// Conn is the transport surface a Session drives. *transport.Conn satisfies
// it; tests supply a fake.
type Conn interface {
	ReadMessage(ctx context.Context) (transport.InboundMessage, error)
	SendMedia(streamSID string, payload string) error
	SendClear(streamSID string) error
}

// Session owns every component for one call and is not reused across calls.
// Reading inbound audio and speaking the patient's replies run on separate
// goroutines so that a reply in progress can still be barged in on: the
// read side keeps feeding the turn detector while a turn's STT/LLM/TTS
// pipeline runs, and the two rendezvous only through the detector's own
// locking and the turnResult channel.
type Session struct {
	conn     Conn
	scenario scenario.Scenario
	cfg      config.CallConfig

	vadEngine vad.Engine
	sttProv   stt.Provider
	ttsProv   tts.Provider
	voice     tts.VoiceProfile
	llmProv   llm.Provider
	ttsRateHz int
	transcDir string

	audioBuf     *audio.AudioBuffer
	vadSession   vad.SessionHandle
	vadAccum     []int16
	turnDetector *turn.Detector
	conv         *conversation.Conversation
	transcriber  *sttutterance.Transcriber
	framer       *ttsframe.Framer
	generator    *respgen.Generator
	pacer        *pacer.Pacer

	now          func() time.Time
	goodbyeGrace time.Duration

	speaking atomic.Bool

	turnWG     sync.WaitGroup
	turnResult chan bool // receives the endCall verdict of each completed turn/prompt

	streamSID     string
	streamStart   time.Time
	callStart     time.Time
	trialEnded    bool
	openingSent   bool
	agentSilStart time.Time
	timeoutCount  int
}

// Option configures a Session during construction.
type Option func(*Session)

// WithTTSSampleRate overrides the PCM sample rate the TTS provider emits
// (default 16000) before it is resampled down to 8kHz for the wire.
func WithTTSSampleRate(hz int) Option {
	return func(s *Session) { s.ttsRateHz = hz }
}

// WithTranscriptDir overrides the directory transcripts are saved to.
func WithTranscriptDir(dir string) Option {
	return func(s *Session) { s.transcDir = dir }
}

// WithClock overrides the session's time source, for tests that need to
// control elapsed-time calculations deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithGoodbyeGrace overrides the pause after a farewell line before the call
// is torn down (default 2s), so tests don't pay real wall-clock time for it.
func WithGoodbyeGrace(d time.Duration) Option {
	return func(s *Session) { s.goodbyeGrace = d }
}

// New builds a Session. The conversation clock starts immediately;
// call-duration and silence-watchdog timers are measured from here.
func New(conn Conn, sc scenario.Scenario, cfg config.CallConfig, vadEngine vad.Engine, sttProv stt.Provider, ttsProv tts.Provider, voice tts.VoiceProfile, llmProv llm.Provider, opts ...Option) (*Session, error) {
	sc.Normalize()

	vadSess, err := vadEngine.NewSession(vad.Config{
		SampleRate:  pcmSampleRate,
		FrameSizeMs: 32,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		conn:         conn,
		scenario:     sc,
		cfg:          cfg,
		vadEngine:    vadEngine,
		sttProv:      sttProv,
		ttsProv:      ttsProv,
		voice:        voice,
		llmProv:      llmProv,
		ttsRateHz:    16000,
		transcDir:    cfg.TranscriptDir,
		audioBuf:     audio.NewAudioBuffer(30, pcmSampleRate),
		vadSession:   vadSess,
		turnDetector: turn.New(int64(cfg.SilenceThresholdMs), int64(cfg.MinSpeechMs)),
		conv:         conversation.New(sc.ID),
		transcriber:  sttutterance.New(sttProv, stt.StreamConfig{SampleRate: pcmSampleRate, Channels: 1}),
		now:          time.Now,
		goodbyeGrace: 2 * time.Second,
		turnResult:   make(chan bool, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.callStart = s.now()

	s.framer = ttsframe.New(ttsProv, voice, s.ttsRateHz)
	s.generator = respgen.New(sc, llmProv,
		respgen.WithOpeningTimeout(secondsOrDefault(cfg.LLMTimeoutS, 10)),
		respgen.WithResponseTimeout(secondsOrDefault(cfg.LLMTimeoutS, 10)))

	return s, nil
}

func secondsOrDefault(s float64, def float64) time.Duration {
	if s <= 0 {
		s = def
	}
	return time.Duration(s * float64(time.Second))
}

// Run drives the call to completion: reading inbound events, detecting
// turns, generating patient responses, and pacing them out, until the call
// ends (goodbye, max duration, repeated silence, or transport close). It
// always returns the conversation snapshot gathered so far, even on error.
func (s *Session) Run(ctx context.Context) conversation.Transcript {
	runCtx, cancel := context.WithCancel(ctx)

	type readResult struct {
		msg transport.InboundMessage
		err error
	}
	readCh := make(chan readResult)
	var eg errgroup.Group
	eg.Go(func() error {
		for {
			rctx, rcancel := context.WithTimeout(runCtx, readTimeout)
			msg, err := s.conn.ReadMessage(rctx)
			rcancel()
			select {
			case readCh <- readResult{msg, err}:
			case <-runCtx.Done():
				return nil
			}
			if err != nil {
				return nil
			}
		}
	})

runLoop:
	for {
		if s.now().Sub(s.callStart).Seconds() > s.cfg.MaxCallDurationS {
			slog.Info("max call duration reached, hanging up", "scenario_id", s.scenario.ID)
			break runLoop
		}

		select {
		case r := <-readCh:
			if r.err != nil {
				if errors.Is(r.err, context.DeadlineExceeded) {
					slog.Info("websocket timeout, no data for 30s")
				} else {
					slog.Info("websocket disconnected", "err", r.err)
				}
				break runLoop
			}
			if s.handleMessage(runCtx, r.msg) {
				break runLoop
			}

		case endCall := <-s.turnResult:
			s.vadSession.Reset()
			s.agentSilStart = s.now()
			if endCall {
				break runLoop
			}

		case <-runCtx.Done():
			break runLoop
		}
	}

	cancel()
	s.turnWG.Wait()
	_ = eg.Wait()
	if s.pacer != nil {
		s.pacer.Stop()
	}
	return s.conv.Snapshot()
}

// handleMessage processes one inbound envelope and reports whether the call
// should end.
func (s *Session) handleMessage(ctx context.Context, msg transport.InboundMessage) (done bool) {
	switch msg.Event {
	case transport.EventConnected:
		slog.Info("stream connected")

	case transport.EventStart:
		if msg.Start != nil {
			s.streamSID = msg.Start.StreamSID
		}
		s.streamStart = s.now()
		s.pacer = pacer.New(s.conn, s.streamSID, 512)
		slog.Info("stream started", "stream_sid", s.streamSID)

	case transport.EventMedia:
		if msg.Media != nil {
			s.handleMedia(ctx, msg.Media.Payload)
		}

	case transport.EventStop:
		slog.Info("stream stopped")
		return true
	}
	return false
}

// handleMedia decodes one inbound audio chunk, feeds it to the VAD, and
// drives the turn detector. A completed turn (or an exhausted silence
// watchdog) is dispatched to its own goroutine so reading and VAD
// classification keep running while the patient's reply is generated and
// spoken — letting a later barge-in interrupt that reply.
func (s *Session) handleMedia(ctx context.Context, payload string) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		slog.Warn("invalid media payload", "err", err)
		return
	}

	pcm8k := audio.MulawDecode(raw)
	pcm16k := audio.Resample(pcm8k, 8000, pcmSampleRate)

	elapsed := s.now().Sub(s.streamStart)
	if elapsed.Seconds() < s.cfg.TrialMessageDurationS {
		return
	}

	if !s.trialEnded {
		s.trialEnded = true
		s.turnDetector.MarkTrialEnded()
		s.vadSession.Reset()
		slog.Info("trial message period ended, listening")
	}

	s.audioBuf.Add(pcm16k)
	s.vadAccum = append(s.vadAccum, pcm16k...)

	timestampMs := elapsed.Milliseconds()

	for len(s.vadAccum) >= vadWindowSamples {
		chunk := s.vadAccum[:vadWindowSamples]
		s.vadAccum = s.vadAccum[vadWindowSamples:]

		ev, err := s.vadSession.ProcessFrame(audio.Int16ToPCMBytes(chunk))
		if err != nil {
			slog.Warn("vad processing error", "err", err)
			continue
		}
		isSpeech := ev.Type == vad.VADSpeechStart || ev.Type == vad.VADSpeechContinue

		if isSpeech {
			s.agentSilStart = time.Time{}
		}

		prevState := s.turnDetector.State()
		newState := s.turnDetector.OnVADResult(isSpeech, timestampMs)

		if newState == turn.Processing && prevState != turn.Processing {
			s.dispatchTurn(ctx)
		}
	}

	if !s.speaking.Load() && s.turnDetector.State() == turn.Listening {
		s.checkSilenceWatchdog(ctx)
	}
}

// dispatchTurn runs the STT/LLM/TTS pipeline for a completed turn on its own
// goroutine, reporting the result on turnResult once done.
func (s *Session) dispatchTurn(ctx context.Context) {
	s.turnWG.Add(1)
	go func() {
		defer s.turnWG.Done()
		s.turnResult <- s.handleTurnComplete(ctx)
	}()
}

// checkSilenceWatchdog prompts the agent-under-test after prolonged silence
// and hangs up after repeated unanswered prompts.
func (s *Session) checkSilenceWatchdog(ctx context.Context) {
	if s.agentSilStart.IsZero() {
		s.agentSilStart = s.now()
		return
	}
	if s.now().Sub(s.agentSilStart).Seconds() <= s.cfg.SilenceWatchdogS {
		return
	}

	s.timeoutCount++
	endCall := s.timeoutCount >= 3
	var prompt string
	if endCall {
		prompt = "I think we got disconnected. Thank you, goodbye."
	} else {
		prompt = "Hello? Are you still there?"
	}
	slog.Info("agent silent too long, prompting", "prompt", prompt)

	s.turnWG.Add(1)
	go func() {
		defer s.turnWG.Done()
		s.conv.AddPatientUtterance(prompt, s.now())
		s.speakText(ctx, prompt)
		s.turnResult <- endCall
	}()
}

// handleTurnComplete transcribes the buffered utterance, generates the
// patient's reply, and speaks it. Returns true when the call should end.
func (s *Session) handleTurnComplete(ctx context.Context) (done bool) {
	audioData := s.audioBuf.GetAndClear()
	if len(audioData) == 0 {
		s.turnDetector.MarkListening()
		return false
	}

	agentText, confidence, err := s.transcriber.Transcribe(ctx, audio.Int16ToPCMBytes(audioData))
	if err != nil {
		slog.Warn("transcription failed", "err", err)
		s.turnDetector.MarkListening()
		return false
	}

	if strings.TrimSpace(agentText) == "" {
		s.turnDetector.MarkListening()
		return false
	}

	lower := strings.ToLower(agentText)
	for _, w := range trialWords {
		if strings.Contains(lower, w) {
			slog.Info("discarding trial message artifact", "text", truncate(agentText, 50))
			s.turnDetector.MarkListening()
			return false
		}
	}

	slog.Info("agent said", "text", agentText, "confidence", confidence)
	s.conv.AddAgentUtterance(agentText, s.now())

	var patientText string
	if !s.openingSent {
		s.openingSent = true
		patientText = s.generator.OpeningLine(ctx)
	} else {
		patientText = s.generator.Respond(ctx, s.conv.Recent(0))
	}

	slog.Info("patient says", "text", patientText)
	s.conv.AddPatientUtterance(patientText, s.now())

	s.speakText(ctx, patientText)

	lowerPatient := strings.ToLower(patientText)
	for _, w := range goodbyeWords {
		if strings.Contains(lowerPatient, w) {
			slog.Info("patient said goodbye, ending call")
			time.Sleep(s.goodbyeGrace)
			return true
		}
	}

	return false
}

// speakText synthesizes text and paces it out, aborting and clearing
// playback if the agent-under-test barges in mid-speech.
func (s *Session) speakText(ctx context.Context, text string) {
	s.speaking.Store(true)
	s.turnDetector.MarkSpeaking()
	defer func() {
		s.speaking.Store(false)
		s.turnDetector.MarkListening()
	}()

	frames, err := s.framer.Synthesize(ctx, text)
	if err != nil {
		slog.Warn("tts synthesis failed", "err", err)
		return
	}

	s.pacer.Play(frames, func() bool {
		return s.turnDetector.State() == turn.Listening
	})
}

// Finish persists the accumulated transcript, matching the original's
// turn_count>0 gate, and returns the saved path when an artifact was
// written.
func (s *Session) Finish() (path string, saved bool, err error) {
	snap := s.conv.Snapshot()
	return transcript.Save(s.transcDir, snap)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
