// Package agent turns a room member's question into a text reply and,
// when a speech synthesizer is configured, an audio rendition of that reply.
//
// The two external services are independent. The reply generator is
// required: without it [Bridge.Ask] fails with [ErrNotConfigured], and any
// generator error fails the request. Speech is best effort: a missing
// synthesizer, a synthesis error or a timeout yields a reply without audio.
// Neither call is retried.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxQuestionLength is the number of runes of a question forwarded to the
// reply generator.
const MaxQuestionLength = 500

// DefaultSpeechTimeout bounds one synthesis call when the caller sets none.
const DefaultSpeechTimeout = 20 * time.Second

// ErrNotConfigured is returned by Ask when no reply generator is set up.
var ErrNotConfigured = errors.New("agent: reply generator not configured")

// Generator produces a text reply to a question asked by asker.
type Generator interface {
	Generate(ctx context.Context, asker, question string) (string, error)
}

// Synthesizer renders text as audio and reports the audio mime type.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio []byte, mimeType string, err error)
}

// Reply is the outcome of a successful Ask. Audio is nil when speech was
// unavailable.
type Reply struct {
	Text        string
	Audio       []byte
	AudioFormat string
}

// Bridge combines a Generator with an optional Synthesizer.
type Bridge struct {
	generator     Generator
	synthesizer   Synthesizer
	speechTimeout time.Duration
}

// NewBridge returns a bridge. Either dependency may be nil.
func NewBridge(generator Generator, synthesizer Synthesizer, speechTimeout time.Duration) *Bridge {
	if speechTimeout <= 0 {
		speechTimeout = DefaultSpeechTimeout
	}
	return &Bridge{
		generator:     generator,
		synthesizer:   synthesizer,
		speechTimeout: speechTimeout,
	}
}

// Ask generates a reply to question and tries to voice it.
func (b *Bridge) Ask(ctx context.Context, asker, question string) (Reply, error) {
	question = TruncateQuestion(question)
	if question == "" {
		return Reply{}, fmt.Errorf("agent: question is empty")
	}
	if b.generator == nil {
		return Reply{}, ErrNotConfigured
	}

	start := time.Now()
	text, err := b.generator.Generate(ctx, asker, question)
	if err != nil {
		return Reply{}, fmt.Errorf("agent: generate reply: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, fmt.Errorf("agent: generator returned an empty reply")
	}
	slog.Debug("agent reply generated", "asker", asker, "chars", len(text), "elapsed", time.Since(start))

	reply := Reply{Text: text}
	if b.synthesizer == nil {
		return reply, nil
	}

	speechCtx, cancel := context.WithTimeout(ctx, b.speechTimeout)
	defer cancel()
	audio, mimeType, err := b.synthesizer.Synthesize(speechCtx, text)
	if err != nil {
		slog.Warn("speech synthesis failed, replying without audio", "err", err)
		return reply, nil
	}
	if len(audio) > 0 {
		reply.Audio = audio
		reply.AudioFormat = mimeType
	}
	return reply, nil
}

// TruncateQuestion trims question and caps it at MaxQuestionLength runes.
func TruncateQuestion(question string) string {
	question = strings.TrimSpace(question)
	if utf8.RuneCountInString(question) <= MaxQuestionLength {
		return question
	}
	n := 0
	for i := range question {
		if n == MaxQuestionLength {
			return question[:i]
		}
		n++
	}
	return question
}
