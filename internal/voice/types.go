// Package voice implements the voice pipeline: it wraps the orchestrator
// (internal/orchestrator) with an STT front-end on the inbound side and a
// sentence-buffered TTS front-end on the outbound side, so a telephony or
// WebRTC transport never sees raw LLM tokens, only VoiceChunks with audio
// and a matching transcript slice.
package voice

import "context"

// STT is the speech-to-text collaborator. audio is the full buffered
// utterance; format is a transport-supplied codec hint (e.g.
// "audio/l16;rate=8000", "audio/ogg").
type STT interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// TTS is the text-to-speech collaborator. voiceID selects a voice/persona;
// an empty voiceID means "provider default".
type TTS interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// VoiceChunk is one unit of the pipeline's outbound stream: synthesized
// audio paired with the exact text it was synthesized from. Concatenating
// every VoiceChunk.Transcript for a turn reproduces the turn's full
// assistant text exactly.
type VoiceChunk struct {
	Audio      []byte
	Transcript string
}

// Config tunes the pipeline's sentence-buffering behavior.
type Config struct {
	// SentenceMaxChars (default 100) flushes the buffer once it reaches
	// this length even without terminal punctuation.
	SentenceMaxChars int
	// VoiceID is passed to TTS.Synthesize for every flush.
	VoiceID string
}

func (c Config) sentenceMax() int {
	if c.SentenceMaxChars <= 0 {
		return 100
	}
	return c.SentenceMaxChars
}
