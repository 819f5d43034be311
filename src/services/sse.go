package services

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

const maxSSELine = 1 << 20

// SSEStream decodes a server-sent event body into text deltas. Lines without
// a data field, empty payloads and payloads that are not JSON are skipped.
// A "[DONE]" payload or the end of the body ends the stream.
type SSEStream struct {
	body      io.ReadCloser
	scanner   *bufio.Scanner
	deltaPath string
	cancel    context.CancelFunc
	done      bool
}

// NewSSEStream reads deltas found at the gjson path deltaPath. cancel, if
// set, is called on Close and releases the request context.
func NewSSEStream(body io.ReadCloser, deltaPath string, cancel context.CancelFunc) *SSEStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	return &SSEStream{
		body:      body,
		scanner:   scanner,
		deltaPath: deltaPath,
		cancel:    cancel,
	}
}

func (s *SSEStream) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimRight(s.scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}
		if !gjson.Valid(data) {
			continue
		}

		if delta := gjson.Get(data, s.deltaPath).String(); delta != "" {
			return delta, nil
		}
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *SSEStream) Close() error {
	s.done = true
	err := s.body.Close()
	if s.cancel != nil {
		s.cancel()
	}
	return err
}

// Collect drains a stream into one string.
func Collect(stream TokenStream) (string, error) {
	defer stream.Close()
	var sb strings.Builder
	for {
		delta, err := stream.Next()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(delta)
	}
}
