package voice

import (
	"context"
	"strings"
	"sync"

	"github.com/fieldservice/concierge/internal/errs"
	"github.com/fieldservice/concierge/internal/orchestrator"
	"github.com/fieldservice/concierge/internal/telemetry"
)

// sentenceTerminators are the punctuation marks that close a spoken
// sentence.
const sentenceTerminators = ".!?"

// chunkBuffer bounds the pipeline's VoiceChunk output channel, mirroring
// agent.chunkBuffer/orchestrator.outBuffer's backpressure rationale.
const chunkBuffer = 8

// TurnRunner is the narrow seam onto the orchestrator the voice pipeline
// needs; *orchestrator.Orchestrator satisfies it.
type TurnRunner interface {
	Turn(ctx context.Context, sid, userText string) (<-chan orchestrator.Chunk, <-chan orchestrator.Report)
}

// Pipeline wraps the orchestrator with STT in front and sentence-buffered
// TTS behind it.
type Pipeline struct {
	turns TurnRunner
	stt   STT
	tts   TTS
	cfg   Config
	log   telemetry.Logger

	cancelMu sync.Mutex
	cancel   map[string]context.CancelFunc
}

// New builds a Pipeline. log may be nil.
func New(turns TurnRunner, stt STT, tts TTS, cfg Config, log telemetry.Logger) *Pipeline {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Pipeline{turns: turns, stt: stt, tts: tts, cfg: cfg, log: log, cancel: make(map[string]context.CancelFunc)}
}

// HandleUtterance is the inbound half of the pipeline: the transport has
// already buffered audio frames up to an end-of-utterance marker (explicit
// commit or VAD silence signal) and hands the complete utterance here. It
// transcribes the audio, then runs one orchestrator turn on the
// transcript, returning the turn's sentence-buffered TTS output and its
// Report.
//
// A transcription failure or timeout surfaces as an aborted Report without
// invoking the orchestrator at all.
func (p *Pipeline) HandleUtterance(ctx context.Context, sid string, audio []byte, format string) (<-chan VoiceChunk, <-chan orchestrator.Report) {
	out := make(chan VoiceChunk, chunkBuffer)
	reportCh := make(chan orchestrator.Report, 1)

	transcript, err := p.stt.Transcribe(ctx, audio, format)
	if err != nil {
		p.log.Error(ctx, "stt transcription failed", "session_id", sid, "error", err)
		close(out)
		reportCh <- orchestrator.Report{SessionID: sid, Aborted: true, AbortReason: string(errs.KindSTTFailure)}
		close(reportCh)
		return out, reportCh
	}

	turnCtx, cancel := context.WithCancel(ctx)
	p.setCancel(sid, cancel)

	go p.run(turnCtx, sid, transcript, out, reportCh, cancel)
	return out, reportCh
}

// BargeIn cancels sid's in-flight turn, if any, discarding any buffered
// but unemitted audio. It is a no-op if no turn is in flight for sid.
func (p *Pipeline) BargeIn(sid string) {
	p.cancelMu.Lock()
	cancel, ok := p.cancel[sid]
	p.cancelMu.Unlock()
	if ok {
		cancel()
	}
}

func (p *Pipeline) setCancel(sid string, cancel context.CancelFunc) {
	p.cancelMu.Lock()
	p.cancel[sid] = cancel
	p.cancelMu.Unlock()
}

func (p *Pipeline) clearCancel(sid string) {
	p.cancelMu.Lock()
	delete(p.cancel, sid)
	p.cancelMu.Unlock()
}

func (p *Pipeline) run(ctx context.Context, sid, transcript string, out chan<- VoiceChunk, reportCh chan<- orchestrator.Report, cancel context.CancelFunc) {
	defer close(out)
	defer close(reportCh)
	defer cancel()
	defer p.clearCancel(sid)

	chunks, turnReportCh := p.turns.Turn(ctx, sid, transcript)

	var buf strings.Builder
	max := p.cfg.sentenceMax()

	// flush synthesizes and emits buf's contents, unless ctx has already
	// been cancelled (barge-in): context cancellation is permanent, so a
	// single ctx.Err() check here is enough to discard every
	// buffered-but-unemitted flush for the remainder of the turn.
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		text := buf.String()
		buf.Reset()
		if ctx.Err() != nil {
			return
		}
		audio, err := p.tts.Synthesize(ctx, text, p.cfg.VoiceID)
		if err != nil {
			p.log.Error(ctx, "tts synthesis failed", "session_id", sid, "error", err)
			return
		}
		select {
		case out <- VoiceChunk{Audio: audio, Transcript: text}:
		case <-ctx.Done():
		}
	}

	for c := range chunks {
		if ctx.Err() != nil {
			continue
		}
		switch c.Kind {
		case orchestrator.KindToken:
			buf.WriteString(c.Text)
			if endsSentence(c.Text) || buf.Len() >= max {
				flush()
			}
		case orchestrator.KindTerminationStep:
			buf.WriteString(c.Text)
			flush()
		case orchestrator.KindDone:
			flush()
		}
	}
	flush()

	report := <-turnReportCh
	if ctx.Err() != nil && !report.Aborted {
		report.Aborted = true
		report.AbortReason = "barge_in"
	}
	reportCh <- report
}

// endsSentence reports whether text, the most recently appended token,
// ends (after trimming trailing whitespace) in a sentence-terminating
// punctuation mark.
func endsSentence(text string) bool {
	trimmed := strings.TrimRight(text, " \t\n")
	if trimmed == "" {
		return false
	}
	return strings.ContainsRune(sentenceTerminators, rune(trimmed[len(trimmed)-1]))
}
