// Package events publishes committed-transition domain events. Delivery is
// at-least-once and fire-and-forget from the orchestrator's perspective: a
// publish failure after a committed saga is logged, never rolled back.
package events

import (
	"context"

	"github.com/halcyonops/sandbox-control-plane/internal/model"
)

type Publisher interface {
	Publish(ctx context.Context, e model.Event) error
}
