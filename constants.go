package amaterasu

import "time"

// Gateway opcodes
const (
	OpDispatch            = 0
	OpHeartbeat           = 1
	OpIdentify            = 2
	OpStatusUpdate        = 3
	OpVoiceStateUpdate    = 4
	OpResume              = 6
	OpReconnect           = 7
	OpRequestGuildMembers = 8
	OpInvalidSession      = 9
	OpHello               = 10
	OpHeartbeatAck        = 11
)

// Gateway close codes
const (
	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSeq           = 4007
	CloseRateLimited          = 4008
	CloseSessionTimedOut      = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
)

// closePolicy decides what the connection manager does after the socket
// closes with a given code.
type closePolicy int

const (
	closeResume     closePolicy = iota // reconnect and resume the session
	closeReidentify                    // reconnect with a fresh identify
	closeFatal                         // surface to the caller, no retry
)

var closePolicies = map[int]closePolicy{
	CloseUnknownError:         closeResume,
	CloseUnknownOpcode:        closeResume,
	CloseDecodeError:          closeResume,
	CloseNotAuthenticated:     closeResume,
	CloseAuthenticationFailed: closeFatal,
	CloseAlreadyAuthenticated: closeResume,
	CloseInvalidSeq:           closeReidentify,
	CloseRateLimited:          closeResume,
	CloseSessionTimedOut:      closeReidentify,
	CloseInvalidShard:         closeFatal,
	CloseShardingRequired:     closeFatal,
	CloseInvalidAPIVersion:    closeFatal,
	CloseInvalidIntents:       closeFatal,
	CloseDisallowedIntents:    closeFatal,
}

// classifyClose maps a transport close code to a policy. Codes not in the
// table are treated as transient and get a reconnect.
func classifyClose(code int) closePolicy {
	if p, ok := closePolicies[code]; ok {
		return p
	}
	return closeResume
}

// ConnectionState is the connection manager's top-level state. It is
// mutated only on the engine's run goroutine.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateResuming
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting-hello"
	case StateIdentifying:
		return "identifying"
	case StateResuming:
		return "resuming"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// Dispatch event names the engine itself cares about. Handlers may be
// registered for any name the platform sends; these are the ones with
// cache rules or synthetic emission.
const (
	EventReady          = "READY"
	EventResumed        = "RESUMED"
	EventDisconnect     = "DISCONNECT" // synthetic, emitted by the engine
	EventGuildCreate    = "GUILD_CREATE"
	EventGuildUpdate    = "GUILD_UPDATE"
	EventGuildDelete    = "GUILD_DELETE"
	EventGuildMemberAdd = "GUILD_MEMBER_ADD"
	EventChannelCreate  = "CHANNEL_CREATE"
	EventChannelUpdate  = "CHANNEL_UPDATE"
	EventChannelDelete  = "CHANNEL_DELETE"
	EventMessageCreate  = "MESSAGE_CREATE"
	EventUserUpdate     = "USER_UPDATE"
	EventWebhooksUpdate = "WEBHOOKS_UPDATE"
)

const (
	gatewayVersion  = "10"
	defaultGateway  = "wss://gateway.discord.gg"
	defaultAPIBase  = "https://discord.com/api/v10"
	defaultEncoding = "json"

	// Reconnect backoff: full jitter over a doubling window, capped.
	backoffBase = 1 * time.Second
	backoffMax  = 60 * time.Second

	// The gateway allows 120 outbound frames per minute per connection.
	// A few of those are reserved so heartbeats are never starved by
	// caller traffic.
	defaultSendsPerMinute = 120
	heartbeatReserve      = 5
)
