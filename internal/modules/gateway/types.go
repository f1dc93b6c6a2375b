package gateway

import (
	"sync"

	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"

	pkgredis "github.com/rakshanetra/core/internal/pkg/redis"
)

const (
	RoomAdmin = "admin"

	namespaceAdmin = "/admin"
	namespaceWeb   = "/web"

	redisChanAdmin = "rn:gateway:admin"
	redisChanWeb   = "rn:gateway:web"

	redisKeyMaxOnlineCount      = "rn:max_online_count"
	redisKeyMaxOnlineCountTotal = "rn:max_online_count:total"
)

// RoomForResource names the socket room carrying one resource's live
// readings.
func RoomForResource(resource string) string { return "resource:" + resource }

// RoomForPrincipal names the socket room carrying one principal's gate
// notices.
func RoomForPrincipal(principal string) string { return "principal:" + principal }

// Message is the envelope used by hub broadcasts and Redis fan-out.
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Room    string      `json:"room,omitempty"`
}

type gatewayPayload struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type clientMeta struct {
	sid   string
	admin bool
}

// WatchValidator decides whether a principal may join a resource room. It is
// consulted on every watch request with the token id the client presented.
type WatchValidator func(principal, resource string, tokenID int64) bool

// WebAuthenticator resolves a handshake JWT to the principal's wallet
// address.
type WebAuthenticator func(token string) (string, error)

// Hub manages the socket.io namespaces, room membership, and the Redis
// fan-out that keeps multiple server instances in sync.
type Hub struct {
	mu sync.RWMutex

	// sid -> joined resource rooms
	sidRooms map[string]map[string]struct{}
	// sid -> principal wallet address (web namespace only)
	sidPrincipal map[string]string
	adminCount   int

	broadcast  chan Message
	register   chan clientMeta
	unregister chan clientMeta

	rc     *pkgredis.Client
	logger *zap.Logger
	sio    *socketio.Server

	adminTokenValidator func(string) bool
	webAuth             WebAuthenticator
	watchValidator      WatchValidator
}
