// Package pipeline runs post-turn work (intent classification, webhook
// dispatch) as a linear chain of processors on detached goroutines.
package pipeline

import (
	"context"
	"fmt"

	"github.com/square-key-labs/omni-ai/src/chain"
	"github.com/square-key-labs/omni-ai/src/config"
	"github.com/square-key-labs/omni-ai/src/intents"
)

// Turn is one completed user message handed to post-turn processing.
// Processors read and extend it in order.
type Turn struct {
	CustomerID string
	Message    string
	Channel    string
	Domain     config.Domain

	Detections []intents.Detection
	Trace      chain.Trace
}

// Processor is one stage of the pipeline.
type Processor interface {
	Name() string
	Process(ctx context.Context, turn *Turn) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc struct {
	name string
	fn   func(ctx context.Context, turn *Turn) error
}

func NewProcessorFunc(name string, fn func(ctx context.Context, turn *Turn) error) ProcessorFunc {
	return ProcessorFunc{name: name, fn: fn}
}

func (p ProcessorFunc) Name() string { return p.name }

func (p ProcessorFunc) Process(ctx context.Context, turn *Turn) error { return p.fn(ctx, turn) }

// Pipeline connects processors in a linear chain
type Pipeline struct {
	processors []Processor
}

// NewPipeline creates a new pipeline with the given processors
func NewPipeline(procs ...Processor) *Pipeline {
	return &Pipeline{processors: procs}
}

// Run passes turn through every processor in order, stopping at the first
// error or when ctx is done.
func (p *Pipeline) Run(ctx context.Context, turn *Turn) error {
	for _, proc := range p.processors {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := proc.Process(ctx, turn); err != nil {
			return fmt.Errorf("%s: %w", proc.Name(), err)
		}
	}
	return nil
}

// Classify detects intents in the turn's message.
func Classify(c *intents.Classifier) Processor {
	return NewProcessorFunc("classify", func(ctx context.Context, turn *Turn) error {
		detections, trace := c.Classify(ctx, turn.Message, turn.Domain)
		turn.Detections = detections
		turn.Trace = append(turn.Trace, trace...)
		return nil
	})
}

// Dispatch posts every detection to its workflow webhook. Turns without
// detections pass through untouched.
func Dispatch(d *intents.Dispatcher) Processor {
	return NewProcessorFunc("dispatch", func(ctx context.Context, turn *Turn) error {
		if len(turn.Detections) == 0 {
			return nil
		}
		trace := d.Dispatch(ctx, turn.CustomerID, turn.Message, turn.Channel, turn.Detections)
		turn.Trace = append(turn.Trace, trace...)
		return nil
	})
}
