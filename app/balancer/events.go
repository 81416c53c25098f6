package balancer

import (
	"context"
	"encoding/json"

	"github.com/canopy-network/balancex/app/balancer/types"
	"github.com/canopy-network/balancex/pkg/balances"
	"github.com/canopy-network/balancex/pkg/redis"
)

// EventPublisher fans balance events out on Pub/Sub and appends them to types.EventStream.
type EventPublisher struct {
	client *redis.Client
}

func NewEventPublisher(client *redis.Client) *EventPublisher {
	return &EventPublisher{client: client}
}

func (p *EventPublisher) Publish(ctx context.Context, channel string, message interface{}) {
	p.client.Publish(ctx, channel, message)

	payload, err := json.Marshal(message)
	if err != nil {
		return
	}
	p.client.Append(ctx, types.EventStream, map[string]interface{}{
		"channel": channel,
		"payload": string(payload),
	})
}

var _ balances.Publisher = (*EventPublisher)(nil)
