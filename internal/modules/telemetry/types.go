package telemetry

import "time"

// Reading is one sensor sample. Resources publish temperature and gas level
// together; AlertTriggered is set by the sensor firmware when the gas value
// crosses its local threshold.
type Reading struct {
	ID             string    `json:"id"`
	Resource       string    `json:"resource"`
	Temperature    float64   `json:"temperature"`
	GasValue       float64   `json:"gas_value"`
	AlertTriggered bool      `json:"alert_triggered"`
	ReportedAt     time.Time `json:"reported_at"`
}

const (
	channelPrefix   = "rn:telemetry:stream:"
	lastKeyPrefix   = "rn:telemetry:last:"
	windowKeyPrefix = "rn:telemetry:window:"

	// WindowSize is how many recent readings each resource retains.
	WindowSize = 20
)

// ChannelFor returns the pub/sub channel carrying a resource's live readings.
func ChannelFor(resource string) string { return channelPrefix + resource }

// ChannelPattern matches every resource's telemetry channel.
func ChannelPattern() string { return channelPrefix + "*" }

// ResourceFromChannel strips the stream prefix from a channel name.
func ResourceFromChannel(channel string) string {
	if len(channel) <= len(channelPrefix) {
		return ""
	}
	return channel[len(channelPrefix):]
}
