// Package sttutterance adapts the streaming stt.Provider interface into a
// one-shot transcribe(pcm) -> (text, confidence) call for a single buffered
// utterance, the way the core pipeline consumes speech recognition.
package sttutterance

import (
	"context"
	"errors"
	"time"

	"github.com/voxbench/callpipeline/pkg/provider/stt"
)

// ErrNoFinal is returned when a session closes without ever emitting a final
// transcript for the submitted audio.
var ErrNoFinal = errors.New("sttutterance: no final transcript received")

// DefaultSampleRate is the rate AudioBuffer accumulates PCM at, and the rate
// passed to StartStream unless overridden.
const DefaultSampleRate = 16000

// Transcriber turns one buffered utterance of 16kHz PCM into text using a
// streaming stt.Provider.
type Transcriber struct {
	provider stt.Provider
	cfg      stt.StreamConfig
}

// New creates a Transcriber. cfg.SampleRate defaults to DefaultSampleRate and
// cfg.Channels defaults to 1 when zero.
func New(provider stt.Provider, cfg stt.StreamConfig) *Transcriber {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &Transcriber{provider: provider, cfg: cfg}
}

// Transcribe sends pcm (little-endian int16 bytes) to the provider as a
// single utterance and waits for the first final transcript. Empty input
// short-circuits to ("", 0, nil) without opening a session.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte) (string, float64, error) {
	if len(pcm) == 0 {
		return "", 0, nil
	}

	sess, err := t.provider.StartStream(ctx, t.cfg)
	if err != nil {
		return "", 0, err
	}
	defer sess.Close()

	if err := sess.SendAudio(pcm); err != nil {
		return "", 0, err
	}

	select {
	case tr, ok := <-sess.Finals():
		if !ok {
			return "", 0, ErrNoFinal
		}
		return tr.Text, tr.Confidence, nil
	case <-ctx.Done():
		return "", 0, ctx.Err()
	case <-time.After(30 * time.Second):
		return "", 0, context.DeadlineExceeded
	}
}
