package serializers

import (
	"errors"

	"github.com/square-key-labs/omni-ai/src/frames"
)

// SerializerType defines the serialization format type
type SerializerType string

const (
	SerializerTypeBinary SerializerType = "binary"
	SerializerTypeText   SerializerType = "text"
)

var (
	// ErrMalformedFrame reports a payload that could not be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnsupportedFrame reports a well-formed payload of a kind this side does not handle.
	ErrUnsupportedFrame = errors.New("unsupported frame")
)

// FrameSerializer converts frames to and from a call gateway's wire format
type FrameSerializer interface {
	// Type returns the websocket message type used on the wire
	Type() SerializerType

	// Serialize converts an outbound frame to its wire representation
	Serialize(frame frames.Frame) ([]byte, error)

	// Deserialize converts an inbound payload to a frame. Errors wrap
	// ErrMalformedFrame or ErrUnsupportedFrame.
	Deserialize(data []byte) (frames.Frame, error)
}
