package frames

import "strings"

// Transcript roles as sent by the telephony gateway.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Utterance is one transcript entry.
type Utterance struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DataFrame is the base for frames that carry conversation content
type DataFrame struct {
	*BaseFrame
}

func (f *DataFrame) Category() FrameCategory {
	return DataCategory
}

// ResponseRequiredFrame asks the server to produce the next agent turn.
// Reminder is set when the gateway is nudging after user silence.
type ResponseRequiredFrame struct {
	*DataFrame
	ResponseID int64
	Transcript []Utterance
	Reminder   bool
}

func NewResponseRequiredFrame(responseID int64, transcript []Utterance) *ResponseRequiredFrame {
	return &ResponseRequiredFrame{
		DataFrame:  &DataFrame{BaseFrame: NewBaseFrame("ResponseRequiredFrame", Inbound)},
		ResponseID: responseID,
		Transcript: transcript,
	}
}

// LastUserUtterance returns the content of the most recent user entry, or "".
func (f *ResponseRequiredFrame) LastUserUtterance() string {
	for i := len(f.Transcript) - 1; i >= 0; i-- {
		if strings.EqualFold(f.Transcript[i].Role, RoleUser) {
			return f.Transcript[i].Content
		}
	}
	return ""
}

// ResponseFrame is one outbound chunk of an agent turn. The final chunk of a
// turn has ContentComplete set and empty content.
type ResponseFrame struct {
	*DataFrame
	ResponseID      int64
	Content         string
	ContentComplete bool
}

func NewResponseFrame(responseID int64, content string) *ResponseFrame {
	return &ResponseFrame{
		DataFrame:  &DataFrame{BaseFrame: NewBaseFrame("ResponseFrame", Outbound)},
		ResponseID: responseID,
		Content:    content,
	}
}

func NewResponseCompleteFrame(responseID int64) *ResponseFrame {
	f := NewResponseFrame(responseID, "")
	f.ContentComplete = true
	return f
}
