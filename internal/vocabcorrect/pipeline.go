// Package vocabcorrect corrects STT misrecognitions of scenario-specific
// vocabulary.
//
// A Scenario's bug_triggers and expected_agent_actions phrases (spec §3) are
// free-form text supplied by whoever authored the test scenario — clinic
// names, drug names, uncommon phrasing. STT providers frequently mishear
// this vocabulary even when the surrounding sentence transcribes cleanly.
// The [Pipeline] applies a two-stage correction strategy to a transcript
// against those phrases:
//
//  1. Phonetic matching ([PhoneticMatcher]): fast, dictionary-free alignment
//     based on pronunciation similarity. Runs in-process with no network
//     calls.
//
//  2. LLM-assisted correction: a language model resolves ambiguous or
//     low-confidence phonetic candidates using the full phrase list. Falls
//     back to the phonetic suggestion when confidence is sufficient, or
//     leaves the original word unchanged.
//
// Each [Correction] records which method produced the substitution and its
// confidence, so callers can audit, display, or selectively roll back changes.
// The package is not wired into the call pipeline, and the module has no
// bug-trigger check for its output to feed.
//
// Implementations of both interfaces must be safe for concurrent use.
package vocabcorrect

import (
	"context"

	"github.com/voxbench/callpipeline/pkg/provider/stt"
)

// Correction captures a single word-level substitution made by the pipeline.
type Correction struct {
	// Original is the word as produced by the STT provider.
	Original string

	// Corrected is the replacement selected by the pipeline.
	Corrected string

	// Confidence is the pipeline's confidence in this substitution (0.0–1.0).
	// Values above 0.9 are considered high-confidence; values below 0.5
	// indicate the correction is speculative.
	Confidence float64

	// Method describes which correction stage produced this substitution.
	// Well-known values:
	//   "phonetic" — produced by a [PhoneticMatcher].
	//   "llm"      — produced by a language-model correction pass.
	Method string
}

// CorrectedTranscript is the output of a [Pipeline.Correct] call.
// It pairs the original [stt.Transcript] with the fully corrected text and
// an itemised record of every substitution that was applied.
type CorrectedTranscript struct {
	// Original is the raw [stt.Transcript] as received from the STT provider.
	Original stt.Transcript

	// Corrected is the full corrected transcript text with all substitutions
	// applied. Suitable for downstream processing (memory storage, LLM context).
	Corrected string

	// Corrections is the ordered list of word-level substitutions applied to
	// produce Corrected. An empty (non-nil) slice means no corrections were
	// necessary.
	Corrections []Correction
}

// Pipeline applies multi-stage corrections to a raw [stt.Transcript],
// resolving STT errors against a scenario's vocabulary.
//
// Implementations must be safe for concurrent use.
type Pipeline interface {
	// Correct processes transcript using the provided phrase list and
	// returns a [CorrectedTranscript] containing the corrected text and an
	// itemised record of every substitution made.
	//
	// phrases is the scenario's bug_triggers and expected_agent_actions text
	// (spec §3), tokenised to words and short n-grams by the caller.
	//
	// Returns a non-nil *CorrectedTranscript on success.
	// When no corrections are needed, Corrected equals transcript.Text and
	// Corrections is an empty (non-nil) slice.
	Correct(ctx context.Context, transcript stt.Transcript, phrases []string) (*CorrectedTranscript, error)
}

// PhoneticMatcher resolves a single word to a known phrase based on
// pronunciation similarity. It is the first stage of the correction pipeline
// and is designed to be fast enough for real-time use — no network calls,
// no LLM round-trips.
//
// Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	// Match attempts to find the phrase from candidates that is most
	// phonetically similar to word.
	//
	// Return values:
	//   corrected  — the best-matching phrase from candidates.
	//   confidence — similarity score in [0.0, 1.0] where 1.0 is a perfect match.
	//   matched    — true when a sufficiently similar phrase was found.
	//
	// When matched is false, corrected must equal word unchanged and confidence
	// must be 0. Implementations define their own similarity threshold for
	// deciding when a match is "sufficient".
	Match(word string, candidates []string) (corrected string, confidence float64, matched bool)
}
