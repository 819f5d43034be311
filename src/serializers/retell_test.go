package serializers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/square-key-labs/omni-ai/src/frames"
)

func TestRetellDeserializeCallDetails(t *testing.T) {
	s := NewRetellFrameSerializer()
	f, err := s.Deserialize([]byte(`{
		"interaction_type": "call_details",
		"call": {"call_id": "call_1", "agent_id": "agent_x", "metadata": {"customer_id": "abc", "voice_id": "default"}}
	}`))
	require.NoError(t, err)

	cd, ok := f.(*frames.CallDetailsFrame)
	require.True(t, ok)
	assert.Equal(t, "call_1", cd.CallID)
	assert.Equal(t, "agent_x", cd.AgentID)
	assert.Equal(t, "abc", cd.CustomerID)
	assert.Equal(t, frames.ControlCategory, frames.CategoryOf(cd))
	assert.Equal(t, frames.Inbound, cd.Direction())
}

func TestRetellDeserializeCallDetailsWithoutMetadata(t *testing.T) {
	s := NewRetellFrameSerializer()
	f, err := s.Deserialize([]byte(`{"interaction_type":"call_details","call":{"call_id":"c"}}`))
	require.NoError(t, err)
	assert.Empty(t, f.(*frames.CallDetailsFrame).CustomerID)
}

func TestRetellDeserializeResponseRequired(t *testing.T) {
	s := NewRetellFrameSerializer()
	f, err := s.Deserialize([]byte(`{
		"interaction_type": "response_required",
		"response_id": 7,
		"transcript": [
			{"role": "agent", "content": "Hi"},
			{"role": "user", "content": "first"},
			{"role": "agent", "content": "ok"},
			{"role": "user", "content": "second"}
		]
	}`))
	require.NoError(t, err)

	rr := f.(*frames.ResponseRequiredFrame)
	assert.Equal(t, int64(7), rr.ResponseID)
	assert.False(t, rr.Reminder)
	assert.Equal(t, "second", rr.LastUserUtterance())
}

func TestRetellDeserializeReminder(t *testing.T) {
	s := NewRetellFrameSerializer()
	f, err := s.Deserialize([]byte(`{"interaction_type":"reminder_required","response_id":3,"transcript":[]}`))
	require.NoError(t, err)
	rr := f.(*frames.ResponseRequiredFrame)
	assert.True(t, rr.Reminder)
	assert.Empty(t, rr.LastUserUtterance())
}

func TestRetellDeserializePingAndUpdate(t *testing.T) {
	s := NewRetellFrameSerializer()

	f, err := s.Deserialize([]byte(`{"interaction_type":"ping_pong","timestamp":1700000000123}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), f.(*frames.PingPongFrame).Timestamp)
	assert.Equal(t, frames.SystemCategory, frames.CategoryOf(f))

	f, err = s.Deserialize([]byte(`{"interaction_type":"update_only","transcript":[{"role":"user","content":"hm"}]}`))
	require.NoError(t, err)
	assert.Len(t, f.(*frames.UpdateOnlyFrame).Transcript, 1)
}

func TestRetellDeserializeErrors(t *testing.T) {
	s := NewRetellFrameSerializer()

	_, err := s.Deserialize([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = s.Deserialize([]byte(`{"response_id": 1}`))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = s.Deserialize([]byte(`{"interaction_type":"call_ended"}`))
	assert.ErrorIs(t, err, ErrUnsupportedFrame)
}

func TestRetellSerialize(t *testing.T) {
	s := NewRetellFrameSerializer()

	b, err := s.Serialize(frames.NewResponseFrame(4, " world"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"response_id":4,"content":" world","content_complete":false}`, string(b))

	b, err = s.Serialize(frames.NewResponseCompleteFrame(4))
	require.NoError(t, err)
	assert.JSONEq(t, `{"response_id":4,"content":"","content_complete":true}`, string(b))

	b, err = s.Serialize(frames.NewPingPongReplyFrame(99))
	require.NoError(t, err)
	assert.JSONEq(t, `{"response_type":"ping_pong","timestamp":99}`, string(b))

	_, err = s.Serialize(frames.NewPingPongFrame(1))
	assert.ErrorIs(t, err, ErrUnsupportedFrame)
}
