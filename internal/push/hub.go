package push

import (
	"context"
	"fmt"
)

// LocalSender is the part of websocket.Hub used to reach this node's sockets.
type LocalSender interface {
	Send(userID string, msg []byte) int
}

// HubPublisher publishes straight to the websocket connections held by this
// process. It is enough for a single node.
type HubPublisher struct {
	hub LocalSender
}

func NewHubPublisher(hub LocalSender) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(_ context.Context, channel string, event Event) error {
	userID, ok := userFromChannel(channel)
	if !ok {
		return fmt.Errorf("unsupported channel %q", channel)
	}

	payload, err := encode(event)
	if err != nil {
		return err
	}
	p.hub.Send(userID, payload)
	return nil
}
