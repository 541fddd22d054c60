package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"concierge/internal/logging"
)

const (
	deepgramListenURL = "wss://api.deepgram.com/v1/listen"
	deepgramSpeakURL  = "wss://api.deepgram.com/v1/speak"

	// Linear16 mono at 16kHz on both legs.
	sampleRateHz      = 16000
	pcmBytesPerSample = 2

	micChunkBytes    = 3200 // 100ms of audio
	handshakeTimeout = 10 * time.Second
)

// DeepgramConfig carries the credentials and model selection for the
// live transcription and synthesis websockets.
type DeepgramConfig struct {
	APIKey        string
	ListenModel   string
	SpeakModel    string
	Language      string
	EndpointingMS int
}

func (c *DeepgramConfig) defaults() {
	if c.ListenModel == "" {
		c.ListenModel = "nova-2"
	}
	if c.SpeakModel == "" {
		c.SpeakModel = "aura-asteria-en"
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.EndpointingMS <= 0 {
		c.EndpointingMS = 300
	}
}

// LiveTranscriber streams PCM audio from a capture source to the
// Deepgram live-listen websocket and emits one utterance per
// endpointed segment.
type LiveTranscriber struct {
	cfg    DeepgramConfig
	source io.Reader
	logger *logging.Logger
}

// NewLiveTranscriber builds a transcriber reading raw linear16 PCM
// from source, typically a microphone capture pipe.
func NewLiveTranscriber(cfg DeepgramConfig, source io.Reader, logger *logging.Logger) (*LiveTranscriber, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram api key is required")
	}
	if source == nil {
		return nil, fmt.Errorf("audio source is required")
	}
	cfg.defaults()
	return &LiveTranscriber{cfg: cfg, source: source, logger: logging.OrNop(logger)}, nil
}

// listenResult is the subset of the live-listen message we act on.
type listenResult struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Listen connects, pumps audio from the source, and delivers
// finalized utterances until the context is cancelled or the source
// is exhausted.
func (t *LiveTranscriber) Listen(ctx context.Context, utterances chan<- string) error {
	return t.listenURL(ctx, deepgramListenURL, utterances)
}

func (t *LiveTranscriber) listenURL(ctx context.Context, rawURL string, utterances chan<- string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse listen url: %w", err)
	}
	q := u.Query()
	q.Set("model", t.cfg.ListenModel)
	q.Set("language", t.cfg.Language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("encoding", "linear16")
	q.Set("channels", "1")
	q.Set("sample_rate", strconv.Itoa(sampleRateHz))
	q.Set("endpointing", strconv.Itoa(t.cfg.EndpointingMS))
	u.RawQuery = q.Encode()

	conn, err := dialDeepgram(ctx, u.String(), t.cfg.APIKey)
	if err != nil {
		return fmt.Errorf("connect live transcription: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)

	// Audio pump. A CloseStream text frame tells the service to flush
	// the final segment before it closes the socket.
	g.Go(func() error {
		defer func() {
			writeMu.Lock()
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
			writeMu.Unlock()
		}()
		buf := make([]byte, micChunkBytes)
		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n, err := t.source.Read(buf)
			if n > 0 {
				writeMu.Lock()
				werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n])
				writeMu.Unlock()
				if werr != nil {
					return fmt.Errorf("send audio: %w", werr)
				}
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read audio source: %w", err)
			}
		}
	})

	// Transcript reader. Parts accumulate until the service marks the
	// end of speech, then the joined utterance is delivered.
	g.Go(func() error {
		var parts []string
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				return fmt.Errorf("read transcript: %w", err)
			}
			var res listenResult
			if err := json.Unmarshal(data, &res); err != nil {
				t.logger.Debug("skipping unparseable transcript frame", "error", err)
				continue
			}
			if res.Type != "Results" || len(res.Channel.Alternatives) == 0 {
				continue
			}
			text := res.Channel.Alternatives[0].Transcript
			if text != "" {
				parts = append(parts, text)
			}
			if !res.SpeechFinal {
				continue
			}
			utterance := strings.TrimSpace(strings.Join(parts, " "))
			parts = parts[:0]
			if utterance == "" {
				continue
			}
			select {
			case utterances <- utterance:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	// The reader exits on the service close frame that follows
	// CloseStream, so both goroutines settle once the source drains
	// or the context is cancelled.
	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	}()

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// StreamSpeaker synthesizes replies over the Deepgram speak websocket
// and writes the returned PCM to a playback sink. It dials a fresh
// connection per utterance, which keeps failure handling simple at
// the cost of a handshake per reply.
type StreamSpeaker struct {
	cfg    DeepgramConfig
	player io.Writer
	logger *logging.Logger
}

// NewStreamSpeaker builds a speaker writing synthesized PCM to
// player, typically an audio playback pipe.
func NewStreamSpeaker(cfg DeepgramConfig, player io.Writer, logger *logging.Logger) (*StreamSpeaker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram api key is required")
	}
	if player == nil {
		return nil, fmt.Errorf("playback sink is required")
	}
	cfg.defaults()
	return &StreamSpeaker{cfg: cfg, player: player, logger: logging.OrNop(logger)}, nil
}

type speakControl struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Speak sends text for synthesis and returns once the service has
// flushed all audio for it.
func (s *StreamSpeaker) Speak(ctx context.Context, text string) error {
	return s.speakURL(ctx, deepgramSpeakURL, text)
}

func (s *StreamSpeaker) speakURL(ctx context.Context, rawURL, text string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse speak url: %w", err)
	}
	q := u.Query()
	q.Set("model", s.cfg.SpeakModel)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRateHz))
	u.RawQuery = q.Encode()

	conn, err := dialDeepgram(ctx, u.String(), s.cfg.APIKey)
	if err != nil {
		return fmt.Errorf("connect speech synthesis: %w", err)
	}
	defer conn.Close()

	for _, msg := range []speakControl{
		{Type: "Speak", Text: text},
		{Type: "Flush"},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("send %s frame: %w", strings.ToLower(msg.Type), err)
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read synthesized audio: %w", err)
		}
		switch msgType {
		case websocket.BinaryMessage:
			if _, err := s.player.Write(data); err != nil {
				return fmt.Errorf("write playback audio: %w", err)
			}
		case websocket.TextMessage:
			var ctrl speakControl
			if err := json.Unmarshal(data, &ctrl); err != nil {
				continue
			}
			// Flushed marks the end of audio for the flushed text.
			if ctrl.Type == "Flushed" {
				_ = conn.WriteJSON(speakControl{Type: "Close"})
				return nil
			}
		}
	}
}

func dialDeepgram(ctx context.Context, rawURL, apiKey string) (*websocket.Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+apiKey)
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return conn, nil
}
