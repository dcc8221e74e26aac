// Package transcript persists a conversation.Transcript as the single
// externally-visible artifact of a call, plus a human-readable companion
// rendering for quick manual review.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/voxbench/callpipeline/internal/conversation"
)

// jsonTurn is the on-disk shape of one conversation.Turn.
type jsonTurn struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
	Elapsed   float64 `json:"elapsed"`
}

// jsonTranscript is the on-disk shape of a conversation.Transcript.
type jsonTranscript struct {
	ScenarioID      string     `json:"scenario_id"`
	StartedAt       float64    `json:"started_at"`
	DurationSeconds float64    `json:"duration_seconds"`
	TurnCount       int        `json:"turn_count"`
	Turns           []jsonTurn `json:"turns"`
}

// Save writes t as indented JSON to dir, named
// "<scenario_id>_<UTC YYYYMMDD_HHMMSS>.json". It only writes when
// t.TurnCount > 0; callers should check the returned ok before treating a
// call as having produced an artifact. Returns the written file path.
func Save(dir string, t conversation.Transcript) (path string, ok bool, err error) {
	if t.TurnCount == 0 {
		slog.Warn("call ended with no conversation turns", "scenario_id", t.ScenarioID)
		return "", false, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("transcript: create directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.json", t.ScenarioID, t.StartedAt.UTC().Format("20060102_150405"))
	path = filepath.Join(dir, filename)

	data, err := json.MarshalIndent(toJSON(t), "", "  ")
	if err != nil {
		return "", false, fmt.Errorf("transcript: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", false, fmt.Errorf("transcript: write %q: %w", path, err)
	}

	slog.Info("transcript saved", "path", path)
	return path, true, nil
}

// FormatText renders t as a human-readable multi-line summary, one line per
// turn: "[%6.1fs] SPEAKER: text".
func FormatText(t conversation.Transcript) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Scenario: %s\n", t.ScenarioID)
	fmt.Fprintf(&b, "Duration: %.1fs\n", t.DurationSeconds)
	fmt.Fprintf(&b, "Turns: %d\n", t.TurnCount)
	b.WriteString(strings.Repeat("-", 50) + "\n")

	for _, turn := range t.Turns {
		speaker := "AGENT"
		if turn.Speaker == conversation.SpeakerPatient {
			speaker = "PATIENT"
		}
		fmt.Fprintf(&b, "[%6.1fs] %s: %s\n", turn.ElapsedSinceStart, speaker, turn.Text)
	}

	return b.String()
}

func toJSON(t conversation.Transcript) jsonTranscript {
	turns := make([]jsonTurn, len(t.Turns))
	for i, turn := range t.Turns {
		turns[i] = jsonTurn{
			Speaker:   string(turn.Speaker),
			Text:      turn.Text,
			Timestamp: float64(turn.Timestamp.UnixMilli()) / 1000,
			Elapsed:   turn.ElapsedSinceStart,
		}
	}
	return jsonTranscript{
		ScenarioID:      t.ScenarioID,
		StartedAt:       float64(t.StartedAt.UnixMilli()) / 1000,
		DurationSeconds: t.DurationSeconds,
		TurnCount:       t.TurnCount,
		Turns:           turns,
	}
}
