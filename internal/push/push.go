// Package push delivers realtime events to signed-in users.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventNewMessage tells a client that a message landed in one of its threads.
const EventNewMessage = "new_message"

const userChannelPrefix = "user:"

// Event is the JSON envelope written to clients.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// NewMessageData is the payload of a new_message event.
type NewMessageData struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
	From      string `json:"from"`
	Snippet   string `json:"snippet"`
	Category  string `json:"category"`
}

// Publisher sends an event to every subscriber of channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

// UserChannel is the channel carrying events for one user.
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// userFromChannel is the inverse of UserChannel.
func userFromChannel(channel string) (string, bool) {
	userID, ok := strings.CutPrefix(channel, userChannelPrefix)
	return userID, ok && userID != ""
}

func encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}
	return payload, nil
}
