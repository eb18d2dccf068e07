package events

import (
	"encoding/json"
	"fmt"
	"log"

	"taskwire/internal/domain"
	"taskwire/internal/registry"
)

// Payload is the data half of an outbound envelope.
type Payload map[string]any

// Broadcaster fans one outbound message out to every connection currently
// associated with an identity token.
type Broadcaster struct {
	Registry *registry.Registry
	Logger   *log.Logger
}

func (b Broadcaster) logger() *log.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return log.Default()
}

// Push builds the envelope and delivers it to all of the token's live
// connections. Send failures are logged, never propagated; a dying
// connection is removed by transport teardown, not here.
func (b Broadcaster) Push(token, msgType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	msg := domain.Message{Type: msgType, Data: raw}
	b.Registry.ForEachForToken(token, func(c registry.Conn) {
		if err := c.Send(msg); err != nil {
			b.logger().Printf("broadcast %s to connection %s: %v", msgType, c.ID(), err)
		}
	})
	return nil
}
