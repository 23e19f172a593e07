package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Message is the provider-neutral push payload handed to a Sender.
type Message struct {
	ID           string            `json:"id,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Notification *Notification     `json:"notification,omitempty"`
	SentAt       string            `json:"sentAt,omitempty"`
}

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Sender interface {
	Send(ctx context.Context, token string, msg Message) error
}

// FlattenData converts an arbitrary JSON object into the string map push providers accept.
// Strings pass through; everything else is JSON encoded.
func FlattenData(data map[string]any) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case nil:
			out[k] = ""
		default:
			raw, err := json.Marshal(tv)
			if err != nil {
				out[k] = fmt.Sprint(tv)
				continue
			}
			out[k] = string(raw)
		}
	}
	return out
}

// Router sends relay tokens through the websocket hub and everything else through FCM.
type Router struct {
	Relay Sender
	FCM   Sender
}

func (r *Router) Send(ctx context.Context, token string, msg Message) error {
	if IsRelayToken(token) {
		if r.Relay == nil {
			return fmt.Errorf("relay not configured")
		}
		return r.Relay.Send(ctx, token, msg)
	}
	if r.FCM == nil {
		return fmt.Errorf("fcm not configured")
	}
	return r.FCM.Send(ctx, token, msg)
}

const relayTokenPrefix = "relay:"

func IsRelayToken(token string) bool {
	return strings.HasPrefix(token, relayTokenPrefix) && len(token) > len(relayTokenPrefix)
}
