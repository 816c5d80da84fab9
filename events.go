package amaterasu

// Ready is the identify acknowledgement payload. Only the slices the
// engine needs for session tracking and cache seeding are decoded.
type Ready struct {
	User             *User    `json:"user"`
	SessionID        string   `json:"session_id"`
	ResumeGatewayURL string   `json:"resume_gateway_url"`
	Guilds           []*Guild `json:"guilds"`
}

// GuildDelete arrives both for real removals and for availability
// outages; Unavailable distinguishes the two.
type GuildDelete struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// Message is the subset of a message-create payload the engine reads:
// enough to upsert the embedded author into the user cache.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
	Content   string `json:"content"`
	Author    *User  `json:"author"`
}

// GuildMemberAdd carries an embedded user object.
type GuildMemberAdd struct {
	GuildID string `json:"guild_id"`
	User    *User  `json:"user"`
}

// WebhooksUpdate signals that a channel's webhook list went stale. The
// event carries no replacement data.
type WebhooksUpdate struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

// Disconnect is the payload of the synthetic DISCONNECT event, emitted
// whenever the engine loses the gateway, with the terminal error when
// the loss is not recoverable.
type Disconnect struct {
	Code      int    `json:"code,omitempty"`
	Err       error  `json:"-"`
	Reconnect bool   `json:"reconnect"`
	Reason    string `json:"reason,omitempty"`
}
