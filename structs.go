package amaterasu

import "encoding/json"

// Event is one decoded gateway frame: opcode, optional sequence, optional
// dispatch event name and the raw payload. Handlers receive the payload
// undecoded and unmarshal the slice they care about.
type Event struct {
	Operation int             `json:"op"`
	Sequence  int64           `json:"s,omitempty"`
	Type      string          `json:"t,omitempty"`
	RawData   json.RawMessage `json:"d,omitempty"`

	// Struct holds the engine-decoded payload when one exists: the
	// *Ready for READY, the *Disconnect for the synthetic DISCONNECT.
	Struct interface{} `json:"-"`
}

type outboundFrame struct {
	Op   int         `json:"op"`
	Data interface{} `json:"d"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// IdentifyProperties describes the connecting client to the platform.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int64              `json:"intents"`
	Compress   bool               `json:"compress"`
	Properties IdentifyProperties `json:"properties"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// invalidSessionData is the op 9 payload: a bare bool saying whether the
// session can still be resumed.
type invalidSessionData bool

type statusUpdateData struct {
	Since      *int64      `json:"since"`
	Activities []*Activity `json:"activities"`
	Status     string      `json:"status"`
	AFK        bool        `json:"afk"`
}

type requestGuildMembersData struct {
	GuildID string `json:"guild_id"`
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
}

// Activity is a presence activity entry for status updates.
type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	URL  string `json:"url,omitempty"`
}
