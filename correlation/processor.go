package correlation

import (
	"context"

	"github.com/get-eventually/eventledger/event"
)

var _ event.Processor = ProcessorWrapper{}

// ProcessorWrapper is an extension component that restores the tenant
// context, the correlation id and the causation id recorded in the
// Event metadata before calling the underlying event.Processor.
type ProcessorWrapper struct {
	event.Processor
}

// Process forwards the event to the wrapped processor, using the restored context.
func (pw ProcessorWrapper) Process(ctx context.Context, evt event.Persisted) error {
	return pw.Processor.Process(ContextFromMetadata(ctx, evt.Metadata), evt)
}
