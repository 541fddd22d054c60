package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTranscriber feeds utterances it is given and then blocks until
// cancelled, like a live microphone stream.
type scriptedTranscriber struct {
	feed chan string
}

func newScriptedTranscriber() *scriptedTranscriber {
	return &scriptedTranscriber{feed: make(chan string, 16)}
}

func (s *scriptedTranscriber) Listen(ctx context.Context, utterances chan<- string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case utterance := <-s.feed:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case utterances <- utterance:
			}
		}
	}
}

type recordingSpeaker struct {
	mu     sync.Mutex
	spoken []string
	delay  time.Duration
	err    error
}

func (r *recordingSpeaker) Speak(ctx context.Context, text string) error {
	if r.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay):
		}
	}
	r.mu.Lock()
	r.spoken = append(r.spoken, text)
	r.mu.Unlock()
	return r.err
}

func (r *recordingSpeaker) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.spoken...)
}

func fastOptions() Options {
	return Options{
		BlockDelay: time.Millisecond,
		GraceDelay: 5 * time.Millisecond,
		QueueDepth: 16,
		Backoff:    time.Millisecond,
	}
}

func echoResponder(_ context.Context, utterance string) (string, error) {
	return "echo: " + utterance, nil
}

func TestCoordinatorAnswersAndStops(t *testing.T) {
	transcriber := newScriptedTranscriber()
	speaker := &recordingSpeaker{}
	coord := NewCoordinator(transcriber, speaker, echoResponder, nil, fastOptions(), nil)

	done := make(chan error, 1)
	go func() { done <- coord.Run(context.Background()) }()

	transcriber.feed <- "what is my rent"
	require.Eventually(t, func() bool {
		return len(speaker.texts()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "echo: what is my rent", speaker.texts()[0])

	transcriber.feed <- "bye"
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop keyword did not end the session")
	}
	assert.Equal(t, StateStopped, coord.State())
}

func TestCoordinatorDiscardsWhileSpeaking(t *testing.T) {
	transcriber := newScriptedTranscriber()
	speaker := &recordingSpeaker{delay: 100 * time.Millisecond}
	coord := NewCoordinator(transcriber, speaker, echoResponder, nil, fastOptions(), nil)

	done := make(chan error, 1)
	go func() { done <- coord.Run(context.Background()) }()

	transcriber.feed <- "first question"
	require.Eventually(t, coord.Speaking, 2*time.Second, time.Millisecond)

	// Heard while the system is talking: must be discarded, not queued.
	transcriber.feed <- "self echo"

	require.Eventually(t, func() bool { return !coord.Speaking() }, 2*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, []string{"echo: first question"}, speaker.texts())

	transcriber.feed <- "stop"
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestCoordinatorClearsFlagAfterSpeakerError(t *testing.T) {
	transcriber := newScriptedTranscriber()
	speaker := &recordingSpeaker{err: errors.New("device gone")}
	coord := NewCoordinator(transcriber, speaker, echoResponder, nil, fastOptions(), nil)

	done := make(chan error, 1)
	go func() { done <- coord.Run(context.Background()) }()

	transcriber.feed <- "trigger failure"
	require.Eventually(t, func() bool {
		return len(speaker.texts()) == 1 && !coord.Speaking()
	}, 2*time.Second, time.Millisecond, "speaking flag must clear after a synthesis error")

	// The session keeps listening after the error.
	transcriber.feed <- "still alive"
	require.Eventually(t, func() bool {
		return len(speaker.texts()) == 2
	}, 2*time.Second, time.Millisecond)

	transcriber.feed <- "exit"
	<-done
}

func TestCoordinatorResponderErrorKeepsListening(t *testing.T) {
	transcriber := newScriptedTranscriber()
	speaker := &recordingSpeaker{}
	respond := func(_ context.Context, utterance string) (string, error) {
		if utterance == "bad" {
			return "", errors.New("reasoning failed")
		}
		return "ok: " + utterance, nil
	}
	coord := NewCoordinator(transcriber, speaker, respond, nil, fastOptions(), nil)

	done := make(chan error, 1)
	go func() { done <- coord.Run(context.Background()) }()

	transcriber.feed <- "bad"
	transcriber.feed <- "good"
	require.Eventually(t, func() bool {
		return len(speaker.texts()) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "ok: good", speaker.texts()[0])

	transcriber.feed <- "stop"
	<-done
}

func TestCoordinatorCancellationJoinsCapture(t *testing.T) {
	transcriber := newScriptedTranscriber()
	speaker := &recordingSpeaker{}
	coord := NewCoordinator(transcriber, speaker, echoResponder, nil, fastOptions(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- coord.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		// Cancellation surfaces as context.Canceled; callers treat it
		// as a clean shutdown.
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not end the session")
	}
	assert.Equal(t, StateStopped, coord.State())
}

func TestCoordinatorStatusTransitions(t *testing.T) {
	transcriber := newScriptedTranscriber()
	speaker := &recordingSpeaker{}
	var mu sync.Mutex
	var statuses []string
	status := func(s string) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	}
	coord := NewCoordinator(transcriber, speaker, echoResponder, status, fastOptions(), nil)

	done := make(chan error, 1)
	go func() { done <- coord.Run(context.Background()) }()

	transcriber.feed <- "hello there"
	require.Eventually(t, func() bool {
		return len(speaker.texts()) == 1
	}, 2*time.Second, time.Millisecond)

	transcriber.feed <- "goodbye"
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, statuses)
	assert.Equal(t, "listening", statuses[0])
	assert.Contains(t, statuses, "speaking")
	assert.Equal(t, "stopped", statuses[len(statuses)-1])
}

func TestIsStopKeyword(t *testing.T) {
	for _, word := range []string{"stop", "Stop.", "EXIT", " bye ", "goodbye!", "quit"} {
		assert.True(t, IsStopKeyword(word), word)
	}
	for _, word := range []string{"stopwatch", "exit strategy", "goodbye cruel world"} {
		assert.False(t, IsStopKeyword(word), word)
	}
}
