package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

type fakeGenerator struct {
	text     string
	err      error
	question string
	asker    string
}

func (g *fakeGenerator) Generate(_ context.Context, asker, question string) (string, error) {
	g.asker, g.question = asker, question
	return g.text, g.err
}

type fakeSynth struct {
	audio []byte
	err   error
	wait  bool
}

func (s *fakeSynth) Synthesize(ctx context.Context, _ string) ([]byte, string, error) {
	if s.wait {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}
	return s.audio, "audio/mpeg", s.err
}

func TestAskWithAudio(t *testing.T) {
	gen := &fakeGenerator{text: "  much wow  "}
	b := NewBridge(gen, &fakeSynth{audio: []byte{1, 2, 3}}, 0)

	reply, err := b.Ask(context.Background(), "alice", " what is doge? ")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if reply.Text != "much wow" || len(reply.Audio) != 3 || reply.AudioFormat != "audio/mpeg" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if gen.asker != "alice" || gen.question != "what is doge?" {
		t.Fatalf("generator got asker=%q question=%q", gen.asker, gen.question)
	}
}

func TestAskSpeechIsBestEffort(t *testing.T) {
	cases := map[string]Synthesizer{
		"no synthesizer": nil,
		"error":          &fakeSynth{err: errors.New("quota exceeded")},
		"empty audio":    &fakeSynth{},
		"timeout":        &fakeSynth{wait: true},
	}
	for name, synth := range cases {
		b := NewBridge(&fakeGenerator{text: "much wow"}, synth, 20*time.Millisecond)
		reply, err := b.Ask(context.Background(), "alice", "hi")
		if err != nil {
			t.Fatalf("%s: ask: %v", name, err)
		}
		if reply.Text != "much wow" || reply.Audio != nil || reply.AudioFormat != "" {
			t.Fatalf("%s: unexpected reply %+v", name, reply)
		}
	}
}

func TestAskFailures(t *testing.T) {
	if _, err := NewBridge(nil, nil, 0).Ask(context.Background(), "a", "q"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	boom := errors.New("boom")
	if _, err := NewBridge(&fakeGenerator{err: boom}, nil, 0).Ask(context.Background(), "a", "q"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped generator error, got %v", err)
	}
	if _, err := NewBridge(&fakeGenerator{text: "   "}, nil, 0).Ask(context.Background(), "a", "q"); err == nil {
		t.Fatal("expected error for empty reply")
	}
	if _, err := NewBridge(&fakeGenerator{text: "x"}, nil, 0).Ask(context.Background(), "a", "  "); err == nil {
		t.Fatal("expected error for empty question")
	}
}

func TestTruncateQuestion(t *testing.T) {
	long := strings.Repeat("é", MaxQuestionLength+10)
	got := TruncateQuestion(long)
	if utf8.RuneCountInString(got) != MaxQuestionLength || !utf8.ValidString(got) {
		t.Fatalf("bad truncation: %d runes", utf8.RuneCountInString(got))
	}
	if got := TruncateQuestion("  short  "); got != "short" {
		t.Fatalf("expected trimmed question, got %q", got)
	}
}
