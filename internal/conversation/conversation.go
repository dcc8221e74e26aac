// Package conversation tracks the turn-by-turn history of a single call and
// projects it into both an LLM message history and an externally-visible
// transcript.
package conversation

import (
	"sync"
	"time"

	"github.com/voxbench/callpipeline/pkg/provider/llm"
)

// Speaker identifies who produced a Turn.
type Speaker string

const (
	SpeakerAgent   Speaker = "agent"
	SpeakerPatient Speaker = "patient"
)

// Turn is one append-only entry in a call's history.
type Turn struct {
	Speaker           Speaker
	Text              string
	Timestamp         time.Time
	ElapsedSinceStart float64
}

// Transcript is the single externally-visible artifact produced per call.
type Transcript struct {
	ScenarioID      string
	StartedAt       time.Time
	DurationSeconds float64
	TurnCount       int
	Turns           []Turn
}

// Conversation accumulates Turns for one call and keeps a parallel LLM
// message projection (agent utterances become "user" messages, patient
// utterances become "assistant" messages, per the persona framing: the
// agent-under-test is the "user" the patient persona is responding to).
type Conversation struct {
	mu sync.Mutex

	scenarioID string
	startedAt  time.Time

	turns    []Turn
	messages []llm.Message
}

// New creates an empty Conversation for the given scenario, timestamped at
// the current time.
func New(scenarioID string) *Conversation {
	return &Conversation{
		scenarioID: scenarioID,
		startedAt:  time.Now(),
	}
}

// AddAgentUtterance appends a Turn spoken by the agent-under-test and
// projects it as a "user" message in the LLM history.
func (c *Conversation) AddAgentUtterance(text string, at time.Time) {
	c.append(SpeakerAgent, text, at, "user")
}

// AddPatientUtterance appends a Turn spoken by the patient persona and
// projects it as an "assistant" message in the LLM history.
func (c *Conversation) AddPatientUtterance(text string, at time.Time) {
	c.append(SpeakerPatient, text, at, "assistant")
}

func (c *Conversation) append(speaker Speaker, text string, at time.Time, role string) {
	if at.IsZero() {
		at = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, Turn{
		Speaker:           speaker,
		Text:              text,
		Timestamp:         at,
		ElapsedSinceStart: roundTo2(at.Sub(c.startedAt).Seconds()),
	})
	c.messages = append(c.messages, llm.Message{Role: role, Content: text})
}

// Recent returns the last n messages of the LLM projection, oldest first.
// A non-positive or out-of-range n returns the whole history.
func (c *Conversation) Recent(n int) []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n <= 0 || n >= len(c.messages) {
		out := make([]llm.Message, len(c.messages))
		copy(out, c.messages)
		return out
	}
	start := len(c.messages) - n
	out := make([]llm.Message, n)
	copy(out, c.messages[start:])
	return out
}

// Snapshot produces the Transcript for this conversation as of now.
func (c *Conversation) Snapshot() Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()

	turns := make([]Turn, len(c.turns))
	copy(turns, c.turns)

	return Transcript{
		ScenarioID:      c.scenarioID,
		StartedAt:       c.startedAt,
		DurationSeconds: roundTo2(time.Since(c.startedAt).Seconds()),
		TurnCount:       len(turns),
		Turns:           turns,
	}
}

// TurnCount reports the number of turns recorded so far.
func (c *Conversation) TurnCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

func roundTo2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
