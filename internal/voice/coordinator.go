// Package voice arbitrates microphone capture and speech playback for a
// voice session so the system never records its own synthesized speech.
package voice

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"concierge/internal/logging"
)

// State of a voice session.
type State int32

const (
	StateListening State = iota
	StateSpeaking
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stop keywords end the session deterministically.
var stopKeywords = map[string]struct{}{
	"stop":    {},
	"exit":    {},
	"bye":     {},
	"goodbye": {},
	"quit":    {},
}

// IsStopKeyword reports whether an utterance asks to end the session.
func IsStopKeyword(utterance string) bool {
	key := strings.ToLower(strings.TrimSpace(utterance))
	key = strings.TrimRight(key, ".!?")
	_, ok := stopKeywords[key]
	return ok
}

// Transcriber captures microphone audio and delivers finalized
// utterances on the given channel until the context is cancelled.
type Transcriber interface {
	Listen(ctx context.Context, utterances chan<- string) error
}

// Speaker synthesizes text and returns once playback has completed.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Responder produces the assistant reply for a recognized utterance.
type Responder func(ctx context.Context, utterance string) (string, error)

// StatusFunc receives session status transitions ("listening",
// "speaking", "stopped") for UI updates.
type StatusFunc func(status string)

// Options tune the coordinator delays and queue depth.
type Options struct {
	// BlockDelay is paused after raising the speaking flag, giving the
	// capture device time to actually stop delivering audio.
	BlockDelay time.Duration
	// GraceDelay is paused after playback before clearing the flag, to
	// absorb the device echo tail.
	GraceDelay time.Duration
	// QueueDepth bounds the pending-utterance queue.
	QueueDepth int
	// Backoff is the listener sleep while the speaking flag is set.
	Backoff time.Duration
}

func (o *Options) defaults() {
	if o.BlockDelay <= 0 {
		o.BlockDelay = 200 * time.Millisecond
	}
	if o.GraceDelay <= 0 {
		o.GraceDelay = time.Second
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 16
	}
	if o.Backoff <= 0 {
		o.Backoff = 50 * time.Millisecond
	}
}

// Coordinator runs one voice session: a capture goroutine feeding a FIFO
// utterance queue and a single consumer that answers and speaks. The two
// sides share only the speaking flag and the queue.
type Coordinator struct {
	transcriber Transcriber
	speaker     Speaker
	respond     Responder
	status      StatusFunc
	opts        Options
	logger      *logging.Logger

	speaking atomic.Bool
	state    atomic.Int32
	micMu    sync.Mutex
}

// NewCoordinator builds a coordinator for one session.
func NewCoordinator(transcriber Transcriber, speaker Speaker, respond Responder, status StatusFunc, opts Options, logger *logging.Logger) *Coordinator {
	opts.defaults()
	if status == nil {
		status = func(string) {}
	}
	return &Coordinator{
		transcriber: transcriber,
		speaker:     speaker,
		respond:     respond,
		status:      status,
		opts:        opts,
		logger:      logging.OrNop(logger),
	}
}

// State returns the current session state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Speaking reports whether synthesized speech is currently playing.
func (c *Coordinator) Speaking() bool {
	return c.speaking.Load()
}

// Run drives the session until a stop keyword, a capture failure, or
// context cancellation. The capture goroutine is always joined before
// Run returns, and the microphone is released on every exit path.
func (c *Coordinator) Run(ctx context.Context) error {
	// At most one capture attempt per session may be in flight.
	c.micMu.Lock()
	defer c.micMu.Unlock()

	c.speaking.Store(false)
	c.state.Store(int32(StateListening))
	c.status(StateListening.String())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	raw := make(chan string, c.opts.QueueDepth)
	queue := make(chan string, c.opts.QueueDepth)

	group, groupCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		defer close(raw)
		err := c.transcriber.Listen(groupCtx, raw)
		if err != nil && groupCtx.Err() != nil {
			// Cancellation is the normal shutdown path.
			return nil
		}
		return err
	})

	group.Go(func() error {
		defer close(queue)
		c.filterLoop(groupCtx, raw, queue)
		return nil
	})

	group.Go(func() error {
		defer cancel()
		return c.consumeLoop(groupCtx, queue)
	})

	err := group.Wait()
	c.speaking.Store(false)
	c.state.Store(int32(StateStopped))
	c.status(StateStopped.String())
	return err
}

// filterLoop moves recognized utterances onto the work queue, discarding
// anything heard while the system is speaking. It sleeps rather than
// spins while the flag is set.
func (c *Coordinator) filterLoop(ctx context.Context, raw <-chan string, queue chan<- string) {
	for {
		select {
		case <-ctx.Done():
			return
		case utterance, ok := <-raw:
			if !ok {
				return
			}
			if c.speaking.Load() {
				c.logger.Debug("discarding utterance heard while speaking", "utterance", utterance)
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.opts.Backoff):
				}
				continue
			}
			if strings.TrimSpace(utterance) == "" {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case queue <- utterance:
			}
		}
	}
}

// consumeLoop is the single queue consumer: it answers each utterance
// and speaks the reply. A stop keyword ends the session.
func (c *Coordinator) consumeLoop(ctx context.Context, queue <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case utterance, ok := <-queue:
			if !ok {
				return nil
			}
			if IsStopKeyword(utterance) {
				c.logger.Info("stop keyword received, ending session", "utterance", utterance)
				return nil
			}

			reply, err := c.respond(ctx, utterance)
			if err != nil {
				c.logger.Warn("responder failed", "error", err)
				continue
			}
			c.speak(ctx, reply)
		}
	}
}

// speak plays one reply. The speaking flag goes up before synthesis
// starts and comes down after the grace delay — in a deferred path, so
// an error in the speaker can never leave the session deaf.
func (c *Coordinator) speak(ctx context.Context, text string) {
	c.speaking.Store(true)
	c.state.Store(int32(StateSpeaking))
	c.status(StateSpeaking.String())

	defer func() {
		select {
		case <-ctx.Done():
		case <-time.After(c.opts.GraceDelay):
		}
		c.speaking.Store(false)
		if c.State() != StateStopped {
			c.state.Store(int32(StateListening))
			c.status(StateListening.String())
		}
	}()

	select {
	case <-ctx.Done():
		return
	case <-time.After(c.opts.BlockDelay):
	}

	if err := c.speaker.Speak(ctx, text); err != nil {
		c.logger.Warn("synthesis failed", "error", err)
	}
}
