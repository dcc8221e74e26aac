// Package pacer paces pre-framed outbound audio at real-time playback speed
// and delivers it to a transport sink, mirroring a telephony provider's
// expectation of one frame roughly every 20ms.
package pacer

import (
	"context"
	"encoding/base64"
	"time"
)

// FrameInterval is the real-time playback interval for one 20ms mu-law frame.
const FrameInterval = 20 * time.Millisecond

// Sink is the minimal transport surface the pacer writes to. A
// *transport.Conn satisfies it.
type Sink interface {
	SendMedia(streamSID string, payload string) error
	SendClear(streamSID string) error
}

// Pacer owns a bounded outbound audio queue for one call and drains it at
// FrameInterval, encoding each frame as base64 for the wire.
type Pacer struct {
	sink      Sink
	streamSID string

	queue chan []byte // closed by Stop to end the send loop
	done  chan struct{}
}

// New creates a Pacer with the given queue depth and starts its send loop in
// a background goroutine. Call Stop to terminate the loop and release it.
func New(sink Sink, streamSID string, queueDepth int) *Pacer {
	if queueDepth <= 0 {
		queueDepth = 512
	}
	p := &Pacer{
		sink:      sink,
		streamSID: streamSID,
		queue:     make(chan []byte, queueDepth),
		done:      make(chan struct{}),
	}
	go p.sendLoop()
	return p
}

// Enqueue submits a frame for playback. It blocks if the queue is full.
// Passing nil is a no-op.
func (p *Pacer) Enqueue(frame []byte) {
	if frame == nil {
		return
	}
	p.queue <- frame
}

// EnqueueAll submits a sequence of frames, returning early without enqueuing
// remaining frames if interrupted returns true before a frame is sent — used
// to implement barge-in by checking turn state between frames.
func (p *Pacer) EnqueueAll(frames [][]byte, interrupted func() bool) (sentAll bool) {
	for _, f := range frames {
		if interrupted != nil && interrupted() {
			p.Clear()
			return false
		}
		p.Enqueue(f)
	}
	return true
}

// Play sends frames directly to the sink at FrameInterval pacing, checking
// interrupted before each frame. Unlike EnqueueAll, the interruption check is
// paced to real playback speed rather than evaluated in a tight loop, so it
// can actually observe a barge-in detected while a long utterance plays.
// Returns false and clears the far end's buffer if interrupted fires before
// all frames are sent.
func (p *Pacer) Play(frames [][]byte, interrupted func() bool) (completed bool) {
	ticker := time.NewTicker(FrameInterval)
	defer ticker.Stop()

	for _, f := range frames {
		if interrupted != nil && interrupted() {
			p.Clear()
			return false
		}
		payload := base64.StdEncoding.EncodeToString(f)
		if err := p.sink.SendMedia(p.streamSID, payload); err != nil {
			return false
		}
		<-ticker.C
	}
	return true
}

// Clear asks the transport to flush any buffered playback on the far end,
// used when the agent-under-test barges in over our own speech.
func (p *Pacer) Clear() error {
	return p.sink.SendClear(p.streamSID)
}

// Stop closes the queue and waits for the send loop to drain it and exit.
func (p *Pacer) Stop() {
	close(p.queue)
	<-p.done
}

func (p *Pacer) sendLoop() {
	defer close(p.done)
	ticker := time.NewTicker(FrameInterval)
	defer ticker.Stop()

	for frame := range p.queue {
		payload := base64.StdEncoding.EncodeToString(frame)
		if err := p.sink.SendMedia(p.streamSID, payload); err != nil {
			return
		}
		<-ticker.C
	}
}

// EnqueueCtx is like Enqueue but respects ctx cancellation while the queue is
// full, returning ctx.Err() instead of blocking forever.
func (p *Pacer) EnqueueCtx(ctx context.Context, frame []byte) error {
	if frame == nil {
		return nil
	}
	select {
	case p.queue <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
