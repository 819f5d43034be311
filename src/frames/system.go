package frames

// SystemFrame is the base for keep-alive frames
type SystemFrame struct {
	*BaseFrame
}

func (f *SystemFrame) Category() FrameCategory {
	return SystemCategory
}

// PingPongFrame is the gateway's keep-alive probe.
type PingPongFrame struct {
	*SystemFrame
	Timestamp int64
}

func NewPingPongFrame(timestamp int64) *PingPongFrame {
	return &PingPongFrame{
		SystemFrame: &SystemFrame{BaseFrame: NewBaseFrame("PingPongFrame", Inbound)},
		Timestamp:   timestamp,
	}
}

// PingPongReplyFrame echoes a probe's timestamp back to the gateway.
type PingPongReplyFrame struct {
	*SystemFrame
	Timestamp int64
}

func NewPingPongReplyFrame(timestamp int64) *PingPongReplyFrame {
	return &PingPongReplyFrame{
		SystemFrame: &SystemFrame{BaseFrame: NewBaseFrame("PingPongReplyFrame", Outbound)},
		Timestamp:   timestamp,
	}
}

// ControlFrame is the base for session bookkeeping frames
type ControlFrame struct {
	*BaseFrame
}

func (f *ControlFrame) Category() FrameCategory {
	return ControlCategory
}

// CallDetailsFrame carries call metadata, sent once after the connection opens.
type CallDetailsFrame struct {
	*ControlFrame
	CallID     string
	AgentID    string
	CustomerID string // from call.metadata.customer_id, may be empty
	Metadata   map[string]interface{}
}

func NewCallDetailsFrame(callID, customerID string, metadata map[string]interface{}) *CallDetailsFrame {
	return &CallDetailsFrame{
		ControlFrame: &ControlFrame{BaseFrame: NewBaseFrame("CallDetailsFrame", Inbound)},
		CallID:       callID,
		CustomerID:   customerID,
		Metadata:     metadata,
	}
}

// UpdateOnlyFrame is a transcript update with no response obligation.
type UpdateOnlyFrame struct {
	*ControlFrame
	Transcript []Utterance
}

func NewUpdateOnlyFrame(transcript []Utterance) *UpdateOnlyFrame {
	return &UpdateOnlyFrame{
		ControlFrame: &ControlFrame{BaseFrame: NewBaseFrame("UpdateOnlyFrame", Inbound)},
		Transcript:   transcript,
	}
}
