package voice

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// ConsoleTranscriber reads one utterance per line from a text stream.
// It stands in for live transcription during development and in
// environments without audio hardware.
type ConsoleTranscriber struct {
	in io.Reader
}

func NewConsoleTranscriber(in io.Reader) *ConsoleTranscriber {
	return &ConsoleTranscriber{in: in}
}

func (t *ConsoleTranscriber) Listen(ctx context.Context, utterances chan<- string) error {
	scanner := bufio.NewScanner(t.in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case utterances <- line:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read console input: %w", err)
	}
	return nil
}

// ConsoleSpeaker prints replies and sleeps for the estimated playback
// duration so the coordinator's turn-taking behaves the same way it
// does with real synthesis.
type ConsoleSpeaker struct {
	out io.Writer
}

func NewConsoleSpeaker(out io.Writer) *ConsoleSpeaker {
	return &ConsoleSpeaker{out: out}
}

func (s *ConsoleSpeaker) Speak(ctx context.Context, text string) error {
	if _, err := fmt.Fprintf(s.out, "assistant: %s\n", text); err != nil {
		return fmt.Errorf("write console reply: %w", err)
	}
	select {
	case <-time.After(estimatePlayback(text)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func estimatePlayback(text string) time.Duration {
	if len(text) == 0 {
		return time.Second
	}
	seconds := float64(len([]rune(text))) / 12.0
	seconds = math.Min(math.Max(seconds, 1), 10)
	return time.Duration(seconds * float64(time.Second))
}
