package audio

import "sync"

// AudioBuffer accumulates 16-bit PCM samples from a stream of inbound audio
// chunks and hands them back as a single contiguous slice. It enforces a
// maximum duration: once exceeded, the buffer collapses to just the last
// chunk added rather than growing unbounded.
//
// AudioBuffer is safe for concurrent use.
type AudioBuffer struct {
	mu           sync.Mutex
	sampleRate   int
	maxSamples   int
	chunks       [][]int16
	totalSamples int
}

// NewAudioBuffer creates a buffer for the given sample rate that holds at
// most maxDurationSeconds worth of audio before trimming.
func NewAudioBuffer(maxDurationSeconds, sampleRate int) *AudioBuffer {
	return &AudioBuffer{
		sampleRate: sampleRate,
		maxSamples: maxDurationSeconds * sampleRate,
	}
}

// Add appends pcm to the buffer. When the accumulated sample count exceeds
// the configured maximum, the buffer discards everything except the chunk
// just added — a deliberate collapse-to-last-block policy rather than a
// sliding trim, since the buffer is only ever read once per utterance and a
// caller that overflows it has already lost the ability to use the earlier
// audio meaningfully.
func (b *AudioBuffer) Add(pcm []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, pcm)
	b.totalSamples += len(pcm)

	if b.totalSamples > b.maxSamples {
		last := b.chunks[len(b.chunks)-1]
		b.chunks = b.chunks[:0]
		b.chunks = append(b.chunks, last)
		b.totalSamples = len(last)
	}
}

// GetAndClear returns all buffered samples concatenated in order, then
// resets the buffer to empty. Returns a non-nil empty slice when the buffer
// has nothing accumulated.
func (b *AudioBuffer) GetAndClear() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) == 0 {
		return []int16{}
	}

	out := make([]int16, 0, b.totalSamples)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	b.chunks = nil
	b.totalSamples = 0
	return out
}

// DurationSeconds returns the duration of the currently buffered audio.
func (b *AudioBuffer) DurationSeconds() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return float64(b.totalSamples) / float64(b.sampleRate)
}

// IsEmpty reports whether the buffer currently holds no samples.
func (b *AudioBuffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.totalSamples == 0
}
