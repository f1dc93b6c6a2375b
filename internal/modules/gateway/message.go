package gateway

import (
	"context"
	"encoding/json"

	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"

	"github.com/rakshanetra/core/internal/modules/telemetry"
)

func (h *Hub) gatewayMessageFormat(event string, payload interface{}) gatewayPayload {
	return gatewayPayload{Type: event, Data: payload}
}

func (h *Hub) emitNamespace(nsp string, msg Message) {
	h.sio.Of(nsp, nil).Emit("message", h.gatewayMessageFormat(msg.Event, msg.Payload))
}

func (h *Hub) emitRoom(nsp, room string, msg Message) {
	h.sio.Of(nsp, nil).To(socketio.Room(room)).Emit("message", h.gatewayMessageFormat(msg.Event, msg.Payload))
}

func (h *Hub) deliver(msg Message) {
	switch msg.Room {
	case RoomAdmin:
		h.emitNamespace(namespaceAdmin, msg)
	case "":
		h.emitNamespace(namespaceAdmin, msg)
		h.emitNamespace(namespaceWeb, msg)
	default:
		h.emitRoom(namespaceWeb, msg.Room, msg)
	}
}

// subscribeRedis listens for broadcasts from other server instances.
func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.rc.Subscribe(ctx, redisChanAdmin, redisChanWeb)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case redisMsg, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(redisMsg.Payload), &msg); err != nil {
				continue
			}
			h.deliver(msg)
		}
	}
}

// subscribeTelemetry forwards every resource's live readings into its
// resource room. Room membership is the access check: clients only get in
// after their token validates.
func (h *Hub) subscribeTelemetry(ctx context.Context) {
	pubsub := h.rc.PSubscribe(ctx, telemetry.ChannelPattern())
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case redisMsg, ok := <-ch:
			if !ok {
				return
			}
			resource := telemetry.ResourceFromChannel(redisMsg.Channel)
			if resource == "" {
				continue
			}
			var r telemetry.Reading
			if err := json.Unmarshal([]byte(redisMsg.Payload), &r); err != nil {
				h.logger.Warn("drop malformed telemetry fanout", zap.Error(err))
				continue
			}
			h.emitRoom(namespaceWeb, RoomForResource(resource), Message{Event: "reading", Payload: r})
			h.emitNamespace(namespaceAdmin, Message{Event: "reading", Payload: r})
		}
	}
}
