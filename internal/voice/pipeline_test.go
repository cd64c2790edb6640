package voice

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fieldservice/concierge/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTurns is a scripted TurnRunner: it replays a fixed Chunk script and
// Report regardless of sid/userText, optionally blocking until its ctx is
// cancelled to exercise barge-in.
type fakeTurns struct {
	chunks    []orchestrator.Chunk
	report    orchestrator.Report
	blockOnCh bool
}

func (f *fakeTurns) Turn(ctx context.Context, sid, userText string) (<-chan orchestrator.Chunk, <-chan orchestrator.Report) {
	out := make(chan orchestrator.Chunk, len(f.chunks)+1)
	reportCh := make(chan orchestrator.Report, 1)
	go func() {
		defer close(out)
		defer close(reportCh)
		for _, c := range f.chunks {
			if f.blockOnCh {
				select {
				case <-ctx.Done():
					reportCh <- orchestrator.Report{SessionID: "s1", Aborted: true, AbortReason: "turn_cancelled"}
					return
				case out <- c:
				}
			} else {
				out <- c
			}
		}
		if f.blockOnCh {
			<-ctx.Done()
			reportCh <- orchestrator.Report{SessionID: "s1", Aborted: true, AbortReason: "turn_cancelled"}
			return
		}
		reportCh <- f.report
	}()
	return out, reportCh
}

type fakeSTT struct {
	text string
	err  error
}

func (f fakeSTT) Transcribe(context.Context, []byte, string) (string, error) { return f.text, f.err }

type fakeTTS struct {
	calls []string
	err   error
}

func (f *fakeTTS) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	f.calls = append(f.calls, text)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("audio:" + text), nil
}

func tokenChunks(text string) []orchestrator.Chunk {
	var out []orchestrator.Chunk
	for _, word := range strings.SplitAfter(text, " ") {
		if word == "" {
			continue
		}
		out = append(out, orchestrator.Chunk{Kind: orchestrator.KindToken, Text: word})
	}
	out = append(out, orchestrator.Chunk{Kind: orchestrator.KindDone, AssistantText: text})
	return out
}

func TestHandleUtterance_SentenceFlush(t *testing.T) {
	text := "I can help. May I have your phone number?"
	turns := &fakeTurns{chunks: tokenChunks(text), report: orchestrator.Report{SessionID: "s1", AssistantText: text}}
	tts := &fakeTTS{}
	p := New(turns, fakeSTT{text: "what can you do"}, tts, Config{}, nil)

	chunks, reportCh := p.HandleUtterance(context.Background(), "s1", []byte("raw-audio"), "audio/l16")

	var got []VoiceChunk
	for c := range chunks {
		got = append(got, c)
	}
	report := <-reportCh

	require.Len(t, got, 2, "one flush per sentence")
	assert.Equal(t, "I can help. ", got[0].Transcript)
	assert.Equal(t, "May I have your phone number?", got[1].Transcript)

	var concatenated strings.Builder
	for _, c := range got {
		concatenated.WriteString(c.Transcript)
	}
	assert.Equal(t, text, concatenated.String(), "concatenated transcript equals full assistant text")
	assert.False(t, report.Aborted)
}

func TestHandleUtterance_SentenceMaxCharsFlush(t *testing.T) {
	long := strings.Repeat("a", 40) + " " + strings.Repeat("b", 40) + " " + strings.Repeat("c", 40)
	turns := &fakeTurns{chunks: tokenChunks(long)}
	tts := &fakeTTS{}
	p := New(turns, fakeSTT{text: "hi"}, tts, Config{SentenceMaxChars: 50}, nil)

	chunks, reportCh := p.HandleUtterance(context.Background(), "s1", nil, "")
	var got []VoiceChunk
	for c := range chunks {
		got = append(got, c)
	}
	<-reportCh

	require.True(t, len(got) >= 2, "expected at least one mid-stream flush from the length cap")
	for _, c := range got {
		assert.LessOrEqual(t, len(c.Transcript), 50+40, "flushed chunk should not grow unbounded past the cap plus one token")
	}
}

func TestHandleUtterance_STTFailureAbortsWithoutInvokingTurn(t *testing.T) {
	turns := &fakeTurns{}
	p := New(turns, fakeSTT{err: assertErr{}}, &fakeTTS{}, Config{}, nil)

	chunks, reportCh := p.HandleUtterance(context.Background(), "s1", nil, "")
	for range chunks {
		t.Fatal("expected no chunks on STT failure")
	}
	report := <-reportCh
	assert.True(t, report.Aborted)
	assert.Equal(t, "stt_failure", report.AbortReason)
}

func TestBargeIn_DiscardsBufferedAudio(t *testing.T) {
	turns := &fakeTurns{
		chunks:    append(tokenChunks("hang on "), orchestrator.Chunk{Kind: orchestrator.KindToken, Text: "let me check that for you right now please wait"}),
		blockOnCh: true,
	}
	tts := &fakeTTS{}
	p := New(turns, fakeSTT{text: "hold please"}, tts, Config{}, nil)

	chunks, reportCh := p.HandleUtterance(context.Background(), "s1", nil, "")

	// Consume the first flushed chunk, then barge in before any more
	// chunks are produced.
	select {
	case <-chunks:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first voice chunk")
	}
	p.BargeIn("s1")

	for range chunks {
		// drain; the remaining unflushed buffer must not appear.
	}
	report := <-reportCh
	assert.True(t, report.Aborted, "a barged-in turn must be reported as aborted")
	for _, call := range tts.calls {
		assert.NotContains(t, call, "right now please wait", "post-barge-in buffer must be discarded, never synthesized")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "stt timeout" }
