package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"

	pkgredis "github.com/rakshanetra/core/internal/pkg/redis"
)

func NewHub(rc *pkgredis.Client, logger *zap.Logger, adminTokenValidator func(string) bool,
	webAuth WebAuthenticator, watchValidator WatchValidator) *Hub {
	sio := socketio.NewServer(nil, nil)
	h := &Hub{
		sidRooms:            make(map[string]map[string]struct{}),
		sidPrincipal:        make(map[string]string),
		broadcast:           make(chan Message, 256),
		register:            make(chan clientMeta, 256),
		unregister:          make(chan clientMeta, 256),
		rc:                  rc,
		logger:              logger.Named("gateway"),
		sio:                 sio,
		adminTokenValidator: adminTokenValidator,
		webAuth:             webAuth,
		watchValidator:      watchValidator,
	}
	h.registerNamespaces()
	return h
}

// Run starts the hub loop and the Redis subscribers.
func (h *Hub) Run(ctx context.Context) {
	go h.subscribeRedis(ctx)
	go h.subscribeTelemetry(ctx)

	for {
		select {
		case <-ctx.Done():
			h.sio.Close(nil)
			return

		case c := <-h.register:
			h.registerClient(c)

		case c := <-h.unregister:
			h.unregisterClient(c)

		case msg := <-h.broadcast:
			h.deliver(msg)
			channel := redisChanWeb
			if msg.Room == RoomAdmin {
				channel = redisChanAdmin
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := h.rc.Publish(ctx, channel, string(data)); err != nil {
				h.logger.Warn("gateway publish failed", zap.String("channel", channel), zap.Error(err))
			}
		}
	}
}

func (h *Hub) registerClient(c clientMeta) {
	h.mu.Lock()
	if c.admin {
		h.adminCount++
		h.mu.Unlock()
		return
	}
	if _, ok := h.sidRooms[c.sid]; !ok {
		h.sidRooms[c.sid] = make(map[string]struct{})
	}
	online := len(h.sidRooms)
	h.mu.Unlock()

	h.updateDailyOnlineStats(online)
}

func (h *Hub) unregisterClient(c clientMeta) {
	h.mu.Lock()
	if c.admin {
		if h.adminCount > 0 {
			h.adminCount--
		}
		h.mu.Unlock()
		return
	}
	delete(h.sidRooms, c.sid)
	delete(h.sidPrincipal, c.sid)
	h.mu.Unlock()
}

func (h *Hub) bindPrincipal(sid, principal string) {
	h.mu.Lock()
	h.sidPrincipal[sid] = principal
	h.mu.Unlock()
}

func (h *Hub) joinResourceRoom(sid, resource string) {
	h.mu.Lock()
	if rooms, ok := h.sidRooms[sid]; ok {
		rooms[resource] = struct{}{}
	}
	h.mu.Unlock()
}

func (h *Hub) leaveResourceRoom(sid, resource string) {
	h.mu.Lock()
	if rooms, ok := h.sidRooms[sid]; ok {
		delete(rooms, resource)
	}
	h.mu.Unlock()
}

func (h *Hub) updateDailyOnlineStats(currentOnline int) {
	if currentOnline < 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dateKey := shortDateKey(time.Now())

	maxOnline := 0
	currentMax, err := h.rc.Raw().HGet(ctx, redisKeyMaxOnlineCount, dateKey).Result()
	switch {
	case err == nil:
		if parsed, parseErr := strconv.Atoi(strings.TrimSpace(currentMax)); parseErr == nil {
			maxOnline = parsed
		}
	case err == redis.Nil:
		// no-op
	default:
		h.logger.Warn("gateway get max online failed", zap.Error(err))
	}

	if currentOnline > maxOnline {
		if err := h.rc.Raw().HSet(ctx, redisKeyMaxOnlineCount, dateKey, currentOnline).Err(); err != nil {
			h.logger.Warn("gateway set max online failed", zap.Error(err))
		}
	}

	if err := h.rc.Raw().HIncrBy(ctx, redisKeyMaxOnlineCountTotal, dateKey, 1).Err(); err != nil {
		h.logger.Warn("gateway incr online total failed", zap.Error(err))
	}
}

func shortDateKey(t time.Time) string {
	return t.Format("1-2-06")
}

// Broadcast sends an event to the given room ("" fans out everywhere).
func (h *Hub) Broadcast(event string, payload interface{}, room string) {
	h.broadcast <- Message{Event: event, Payload: payload, Room: room}
}

// BroadcastAdmin sends to the admin namespace only.
func (h *Hub) BroadcastAdmin(event string, payload interface{}) {
	h.Broadcast(event, payload, RoomAdmin)
}

// NotifyPrincipal sends a gate notice to one principal's room.
func (h *Hub) NotifyPrincipal(principal, event string, payload interface{}) {
	h.Broadcast(event, payload, RoomForPrincipal(principal))
}

// ClientCount returns connected web clients, or admin clients for RoomAdmin.
func (h *Hub) ClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	switch room {
	case RoomAdmin:
		return h.adminCount
	case "":
		return len(h.sidRooms) + h.adminCount
	default:
		n := 0
		for _, rooms := range h.sidRooms {
			if _, ok := rooms[strings.TrimPrefix(room, "resource:")]; ok {
				n++
			}
		}
		return n
	}
}

// Handler returns the socket.io HTTP handler mounted at /socket.io.
func (h *Hub) Handler() http.Handler {
	return h.sio.ServeHandler(nil)
}
