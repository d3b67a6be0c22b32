package constants

// Broker topology. These names are part of the wire contract and must not
// change without coordinating with every other consumer of the broker.
const (
	MessagesQueue      = "chat-messages"
	NotificationsQueue = "chat-notifications"
	EventsQueue        = "chat-events"

	DirectExchange = "chat.direct"
	FanoutExchange = "chat.fanout"

	MessageRoutingKey = "message"
)

// Broker reconnect policy
const (
	DefaultReconnectDelaySec   = 5
	DefaultMaxReconnectAttempt = 5
)

// Default timeout values
const (
	DefaultDatabaseRetryAttempts   = 3
	DefaultRetryBackoffMs          = 100
	DefaultMaxBackoffMs            = 2000
	DefaultGracefulShutdownSec     = 30
	DefaultBackoffInitialMs        = 500
	DefaultBackoffMaxSec           = 5
	DefaultServerReadTimeoutSec    = 15
	DefaultServerWriteTimeoutSec   = 15
	DefaultServerIdleTimeoutSec    = 60
	DefaultConsumerProcessSec      = 10
	DefaultPushSinkTimeoutSec      = 5
	DefaultWriteToSocketTimeoutSec = 10
)

// Defaults for the HTTP read surface
const (
	DefaultServerPort        = 8082
	DefaultHistoryPageSize   = 50
	MaxHistoryPageSize       = 100
	DefaultSearchResultLimit = 20
)

// Hub limits
const (
	DefaultSocketSendBuffer = 64
	MaxInboundFrameBytes    = 1 << 20
)

const ServerErrorChannelSize = 1
