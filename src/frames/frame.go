package frames

import (
	"fmt"
	"sync/atomic"
	"time"
)

var frameCounter uint64

// FrameDirection indicates which side of the call connection produced a frame
type FrameDirection int

const (
	Inbound  FrameDirection = iota // gateway -> server
	Outbound                       // server -> gateway
)

func (d FrameDirection) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Frame is the base interface for all protocol frames exchanged on a call connection
type Frame interface {
	ID() uint64
	Name() string
	Received() time.Time
	Direction() FrameDirection
	String() string
}

// BaseFrame provides common frame functionality
type BaseFrame struct {
	id        uint64
	name      string
	received  time.Time
	direction FrameDirection
}

func NewBaseFrame(name string, direction FrameDirection) *BaseFrame {
	return &BaseFrame{
		id:        atomic.AddUint64(&frameCounter, 1),
		name:      name,
		received:  time.Now(),
		direction: direction,
	}
}

func (f *BaseFrame) ID() uint64 {
	return f.id
}

func (f *BaseFrame) Name() string {
	return f.name
}

func (f *BaseFrame) Received() time.Time {
	return f.received
}

func (f *BaseFrame) Direction() FrameDirection {
	return f.direction
}

func (f *BaseFrame) String() string {
	return fmt.Sprintf("%s[id=%d, %s, at=%v]", f.name, f.id, f.direction, f.received.Format("15:04:05.000"))
}

// Frame categories
type FrameCategory int

const (
	SystemCategory  FrameCategory = iota // Keep-alive traffic, answered immediately
	DataCategory                         // Turns that produce a response
	ControlCategory                      // Session bookkeeping, no output
)

func (c FrameCategory) String() string {
	switch c {
	case SystemCategory:
		return "system"
	case DataCategory:
		return "data"
	case ControlCategory:
		return "control"
	default:
		return "unknown"
	}
}

// Categorizable frames can report their category
type Categorizable interface {
	Category() FrameCategory
}

// CategoryOf returns the category of f, defaulting to data.
func CategoryOf(f Frame) FrameCategory {
	if c, ok := f.(Categorizable); ok {
		return c.Category()
	}
	return DataCategory
}
