package serializers

import (
	"encoding/json"
	"fmt"

	"github.com/square-key-labs/omni-ai/src/frames"
)

// Interaction types sent by the gateway.
const (
	InteractionCallDetails      = "call_details"
	InteractionPingPong         = "ping_pong"
	InteractionUpdateOnly       = "update_only"
	InteractionResponseRequired = "response_required"
	InteractionReminderRequired = "reminder_required"
)

// RetellFrameSerializer handles the Retell custom LLM websocket protocol
type RetellFrameSerializer struct{}

type retellInbound struct {
	InteractionType string             `json:"interaction_type"`
	ResponseID      int64              `json:"response_id"`
	Transcript      []frames.Utterance `json:"transcript"`
	Timestamp       int64              `json:"timestamp"`
	Call            *retellCall        `json:"call,omitempty"`
}

type retellCall struct {
	CallID   string                 `json:"call_id"`
	AgentID  string                 `json:"agent_id"`
	Metadata map[string]interface{} `json:"metadata"`
}

type retellResponse struct {
	ResponseID      int64  `json:"response_id"`
	Content         string `json:"content"`
	ContentComplete bool   `json:"content_complete"`
}

type retellPingPong struct {
	ResponseType string `json:"response_type"`
	Timestamp    int64  `json:"timestamp"`
}

func NewRetellFrameSerializer() *RetellFrameSerializer {
	return &RetellFrameSerializer{}
}

// Type returns the serialization type (Retell uses JSON text messages)
func (s *RetellFrameSerializer) Type() SerializerType {
	return SerializerTypeText
}

// Serialize converts an outbound frame to Retell JSON
func (s *RetellFrameSerializer) Serialize(frame frames.Frame) ([]byte, error) {
	switch f := frame.(type) {
	case *frames.ResponseFrame:
		return json.Marshal(retellResponse{
			ResponseID:      f.ResponseID,
			Content:         f.Content,
			ContentComplete: f.ContentComplete,
		})
	case *frames.PingPongReplyFrame:
		return json.Marshal(retellPingPong{
			ResponseType: InteractionPingPong,
			Timestamp:    f.Timestamp,
		})
	default:
		return nil, fmt.Errorf("%w: cannot serialize %s", ErrUnsupportedFrame, frame.Name())
	}
}

// Deserialize converts a Retell JSON message to a frame
func (s *RetellFrameSerializer) Deserialize(data []byte) (frames.Frame, error) {
	var msg retellInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch msg.InteractionType {
	case InteractionCallDetails:
		f := frames.NewCallDetailsFrame("", "", nil)
		if msg.Call != nil {
			f.CallID = msg.Call.CallID
			f.AgentID = msg.Call.AgentID
			f.Metadata = msg.Call.Metadata
			if id, ok := msg.Call.Metadata["customer_id"].(string); ok {
				f.CustomerID = id
			}
		}
		return f, nil

	case InteractionPingPong:
		return frames.NewPingPongFrame(msg.Timestamp), nil

	case InteractionUpdateOnly:
		return frames.NewUpdateOnlyFrame(msg.Transcript), nil

	case InteractionResponseRequired, InteractionReminderRequired:
		f := frames.NewResponseRequiredFrame(msg.ResponseID, msg.Transcript)
		f.Reminder = msg.InteractionType == InteractionReminderRequired
		return f, nil

	case "":
		return nil, fmt.Errorf("%w: missing interaction_type", ErrMalformedFrame)

	default:
		return nil, fmt.Errorf("%w: interaction_type %q", ErrUnsupportedFrame, msg.InteractionType)
	}
}
