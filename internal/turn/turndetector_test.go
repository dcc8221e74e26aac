package turn_test

import (
	"testing"

	"github.com/voxbench/callpipeline/internal/turn"
)

func TestOnVADResult_IgnoredUntilTrialEnded(t *testing.T) {
	d := turn.New(700, 300)
	if got := d.OnVADResult(true, 0); got != turn.WaitingForTrialEnd {
		t.Fatalf("got %v, want WaitingForTrialEnd", got)
	}
}

func TestOnVADResult_SpeechEntersListening(t *testing.T) {
	d := turn.New(700, 300)
	d.MarkTrialEnded()

	if got := d.OnVADResult(true, 0); got != turn.Listening {
		t.Fatalf("got %v, want Listening", got)
	}
}

func TestOnVADResult_RequiresBothMinSpeechAndSilence(t *testing.T) {
	d := turn.New(100, 300)
	d.MarkTrialEnded()

	d.OnVADResult(true, 0)
	// Speech lasted only 100ms before silence starts — below min_speech_ms.
	if got := d.OnVADResult(false, 100); got != turn.Listening {
		t.Fatalf("silence after short speech: got %v, want Listening", got)
	}
	// silence_dur = 250-100 = 150ms >= silence_threshold_ms=100, but
	// speech_dur (measured from speech start) = 250ms < min_speech_ms=300.
	if got := d.OnVADResult(false, 250); got != turn.Listening {
		t.Fatalf("silence_dur alone should not trigger Processing without min speech: got %v", got)
	}
}

func TestOnVADResult_TransitionsToProcessingWhenBothThresholdsMet(t *testing.T) {
	d := turn.New(700, 300)
	d.MarkTrialEnded()

	d.OnVADResult(true, 0)
	// Speech runs 0..400ms (>= min_speech_ms=300), silence starts at 400ms.
	if got := d.OnVADResult(false, 400); got != turn.Listening {
		t.Fatalf("silence just started: got %v, want Listening", got)
	}
	// silence_dur = 1100-400 = 700ms >= silence_threshold_ms=700.
	if got := d.OnVADResult(false, 1100); got != turn.Processing {
		t.Fatalf("got %v, want Processing", got)
	}
}

func TestOnVADResult_SilenceDuringSpeechDoesNotResetEarly(t *testing.T) {
	d := turn.New(700, 300)
	d.MarkTrialEnded()

	d.OnVADResult(true, 0)
	d.OnVADResult(true, 200)
	// First silence sample starts the silence timer at 200ms.
	if got := d.OnVADResult(false, 200); got != turn.Listening {
		t.Fatalf("got %v, want Listening", got)
	}
	// speech_dur = 1000-0 = 1000ms >= min_speech_ms=300 and
	// silence_dur = 1000-200 = 800ms >= silence_threshold_ms=700.
	if got := d.OnVADResult(false, 1000); got != turn.Processing {
		t.Fatalf("got %v, want Processing once silence_dur crosses threshold with enough total speech", got)
	}
}

func TestMarkSpeaking_BargeInReturnsToListening(t *testing.T) {
	d := turn.New(700, 300)
	d.MarkTrialEnded()
	d.MarkSpeaking()

	if got := d.State(); got != turn.Speaking {
		t.Fatalf("got %v, want Speaking", got)
	}

	if got := d.OnVADResult(true, 5000); got != turn.Listening {
		t.Fatalf("barge-in: got %v, want Listening", got)
	}
}

func TestOnVADResult_IgnoredWhileProcessing(t *testing.T) {
	d := turn.New(700, 300)
	d.MarkTrialEnded()
	d.OnVADResult(true, 0)
	d.OnVADResult(false, 400)
	if got := d.OnVADResult(false, 1100); got != turn.Processing {
		t.Fatalf("setup: got %v, want Processing", got)
	}

	if got := d.OnVADResult(true, 1200); got != turn.Processing {
		t.Fatalf("VAD events during Processing should be ignored: got %v", got)
	}
}

func TestMarkFinished_IsTerminal(t *testing.T) {
	d := turn.New(700, 300)
	d.MarkTrialEnded()
	d.MarkFinished()

	if got := d.OnVADResult(true, 0); got != turn.Finished {
		t.Fatalf("got %v, want Finished", got)
	}
}

func TestState_String(t *testing.T) {
	cases := []struct {
		s    turn.State
		want string
	}{
		{turn.WaitingForTrialEnd, "waiting_for_trial_end"},
		{turn.Listening, "listening"},
		{turn.Processing, "processing"},
		{turn.Speaking, "speaking"},
		{turn.Finished, "finished"},
	}
	for _, c := range cases {
		if got := c.s.String(); got != c.want {
			t.Errorf("String(%d) = %q, want %q", c.s, got, c.want)
		}
	}
}
