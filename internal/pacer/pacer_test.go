package pacer_test

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/voxbench/callpipeline/internal/pacer"
)

type fakeSink struct {
	mu       sync.Mutex
	payloads []string
	cleared  int
}

func (f *fakeSink) SendMedia(streamSID, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeSink) SendClear(streamSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func TestPacer_EnqueueDeliversFramesInOrder(t *testing.T) {
	sink := &fakeSink{}
	p := pacer.New(sink, "stream1", 16)

	p.Enqueue([]byte{1, 2, 3})
	p.Enqueue([]byte{4, 5, 6})
	p.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.payloads) != 2 {
		t.Fatalf("got %d payloads, want 2", len(sink.payloads))
	}
	want0 := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	if sink.payloads[0] != want0 {
		t.Errorf("payload 0 = %q, want %q", sink.payloads[0], want0)
	}
}

func TestPacer_ClearSendsClearEnvelope(t *testing.T) {
	sink := &fakeSink{}
	p := pacer.New(sink, "stream1", 16)
	defer p.Stop()

	if err := p.Clear(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.cleared != 1 {
		t.Errorf("cleared = %d, want 1", sink.cleared)
	}
}

func TestPacer_EnqueueAllStopsOnInterrupt(t *testing.T) {
	sink := &fakeSink{}
	p := pacer.New(sink, "stream1", 16)
	defer p.Stop()

	calls := 0
	interrupted := func() bool {
		calls++
		return calls > 1
	}

	frames := [][]byte{{1}, {2}, {3}, {4}}
	sentAll := p.EnqueueAll(frames, interrupted)
	if sentAll {
		t.Error("expected EnqueueAll to report interruption")
	}

	time.Sleep(10 * time.Millisecond)
	if got := sink.count(); got >= len(frames) {
		t.Errorf("sent %d frames, expected fewer than %d due to interruption", got, len(frames))
	}

	sink.mu.Lock()
	cleared := sink.cleared
	sink.mu.Unlock()
	if cleared != 1 {
		t.Errorf("cleared = %d, want 1 on interruption", cleared)
	}
}

func TestPacer_PlayStopsOnInterruptMidPlayback(t *testing.T) {
	sink := &fakeSink{}
	p := pacer.New(sink, "stream1", 16)
	defer p.Stop()

	frames := [][]byte{{1}, {2}, {3}, {4}, {5}}
	interrupted := func() bool {
		return sink.count() >= 2
	}

	completed := p.Play(frames, interrupted)
	if completed {
		t.Error("expected Play to report interruption")
	}
	if got := sink.count(); got >= len(frames) {
		t.Errorf("sent %d frames, expected fewer than %d", got, len(frames))
	}

	sink.mu.Lock()
	cleared := sink.cleared
	sink.mu.Unlock()
	if cleared != 1 {
		t.Errorf("cleared = %d, want 1 on interruption", cleared)
	}
}

func TestPacer_PlaySendsAllFramesWhenNotInterrupted(t *testing.T) {
	sink := &fakeSink{}
	p := pacer.New(sink, "stream1", 16)
	defer p.Stop()

	frames := [][]byte{{1}, {2}, {3}}
	completed := p.Play(frames, func() bool { return false })
	if !completed {
		t.Error("expected Play to complete")
	}
	if got := sink.count(); got != len(frames) {
		t.Errorf("sent %d frames, want %d", got, len(frames))
	}
}
