// Package relay forwards generated text to a duplex connection as a sequence
// of correlated chunk frames closed by one terminal frame.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/square-key-labs/omni-ai/src/frames"
	"github.com/square-key-labs/omni-ai/src/logger"
	"github.com/square-key-labs/omni-ai/src/services"
)

// DefaultWordDelay is the pause between words on the paced path.
const DefaultWordDelay = 50 * time.Millisecond

// Sink receives outbound frames. Implementations must be safe for use by one
// writer at a time; the session serializes writes per connection.
type Sink interface {
	WriteFrame(frame frames.Frame) error
}

// ErrSinkClosed wraps write failures so callers can tell a dead connection
// from a failing generation stream.
var ErrSinkClosed = errors.New("relay: sink write failed")

var log = logger.WithPrefix("Relay")

// Live drains stream and sends each non-empty delta as a chunk frame. It
// returns the concatenated deltas. On a clean end of stream the terminal
// frame is sent, even when nothing was produced. When the stream fails
// mid-way the partial text and the error are returned and no terminal frame
// is written, leaving the caller to close the turn.
func Live(ctx context.Context, sink Sink, responseID int64, stream services.TokenStream) (string, error) {
	defer stream.Close()

	var sb strings.Builder
	chunks := 0
	for {
		if err := ctx.Err(); err != nil {
			return sb.String(), err
		}

		delta, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sb.String(), err
		}
		if delta == "" {
			continue
		}

		if err := sink.WriteFrame(frames.NewResponseFrame(responseID, delta)); err != nil {
			return sb.String(), fmt.Errorf("%w: %v", ErrSinkClosed, err)
		}
		sb.WriteString(delta)
		chunks++
	}

	if err := sink.WriteFrame(frames.NewResponseCompleteFrame(responseID)); err != nil {
		return sb.String(), fmt.Errorf("%w: %v", ErrSinkClosed, err)
	}
	log.Debug("response %d: %d chunks, %d chars", responseID, chunks, sb.Len())
	return sb.String(), nil
}

// Paced streams a known text one word at a time with delay between frames,
// then sends the terminal frame. Words after the first carry their leading
// space back so the chunks concatenate to text exactly.
func Paced(ctx context.Context, sink Sink, responseID int64, text string, delay time.Duration) error {
	words := strings.Split(text, " ")

	sent := 0
	for i, word := range words {
		if i > 0 {
			word = " " + word
		}
		if word == "" {
			continue
		}

		if sent > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := sink.WriteFrame(frames.NewResponseFrame(responseID, word)); err != nil {
			return fmt.Errorf("%w: %v", ErrSinkClosed, err)
		}
		sent++
	}

	if err := sink.WriteFrame(frames.NewResponseCompleteFrame(responseID)); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkClosed, err)
	}
	log.Debug("paced response %d: %d words", responseID, sent)
	return nil
}
