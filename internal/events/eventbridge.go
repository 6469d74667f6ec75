package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/halcyonops/sandbox-control-plane/internal/awsx"
	"github.com/halcyonops/sandbox-control-plane/internal/metrics"
	"github.com/halcyonops/sandbox-control-plane/internal/model"
)

const eventSource = "sandbox-control-plane"

// EventBridgePublisher puts events on a custom bus.
type EventBridgePublisher struct {
	client  *eventbridge.Client
	busName string
}

func NewEventBridgePublisher(ctx context.Context, busName string) (*EventBridgePublisher, error) {
	if strings.TrimSpace(busName) == "" {
		return nil, fmt.Errorf("bus name is required")
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return &EventBridgePublisher{client: eventbridge.NewFromConfig(cfg), busName: busName}, nil
}

func (p *EventBridgePublisher) Publish(ctx context.Context, e model.Event) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}

	start := time.Now()
	err = awsx.Retry(ctx, "put_events", func(callCtx context.Context) error {
		out, callErr := p.client.PutEvents(callCtx, &eventbridge.PutEventsInput{
			Entries: []ebtypes.PutEventsRequestEntry{{
				EventBusName: aws.String(p.busName),
				Source:       aws.String(eventSource),
				DetailType:   aws.String(string(e.Type)),
				Detail:       aws.String(string(detail)),
				Time:         aws.Time(e.OccurredAt),
			}},
		})
		if callErr != nil {
			return callErr
		}
		if out.FailedEntryCount > 0 {
			return fmt.Errorf("put events: %d entries failed", out.FailedEntryCount)
		}
		return nil
	})
	awsx.Observe("put_events", start, err)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.Default().IncCounter("sbx_events_published_total", map[string]string{
		"type":   string(e.Type),
		"status": status,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}
