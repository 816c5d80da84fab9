package amaterasu

import "sync"

// User is a cached profile. The cache is an append/update-only
// best-effort mirror, never a source of truth.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar"`
	Bot           bool   `json:"bot,omitempty"`
}

// Channel is a channel summary carried inside guild payloads.
type Channel struct {
	ID       string `json:"id"`
	GuildID  string `json:"guild_id,omitempty"`
	Name     string `json:"name"`
	Type     int    `json:"type"`
	Position int    `json:"position"`
}

// Role is a role summary carried inside guild payloads.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Position    int    `json:"position"`
	Permissions string `json:"permissions,omitempty"`
}

// Guild is the cached per-guild state. Unavailable guilds are a distinct
// sub-state, not absence: the platform sends them during outages and on
// the initial ready burst.
type Guild struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Unavailable bool       `json:"unavailable,omitempty"`
	MemberCount int        `json:"member_count,omitempty"`
	Channels    []*Channel `json:"channels,omitempty"`
	Roles       []*Role    `json:"roles,omitempty"`
}

// Webhook is a cached webhook entry, indexed by channel id.
type Webhook struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Token     string `json:"token,omitempty"`
	Name      string `json:"name,omitempty"`
}

// State is the in-memory cache the dispatcher maintains from the event
// stream. Mutation happens on the engine's run goroutine; reads may come
// from any caller goroutine, hence the RWMutex. All operations are
// last-write-wins.
type State struct {
	sync.RWMutex

	guilds   map[string]*Guild
	users    map[string]*User
	webhooks map[string][]*Webhook
}

func NewState() *State {
	return &State{
		guilds:   map[string]*Guild{},
		users:    map[string]*User{},
		webhooks: map[string][]*Webhook{},
	}
}

// UpsertGuild merges g onto any cached guild with the same id. Zero
// fields in an update never erase previously cached ones, so a partial
// guild-update leaves the create's data in place.
func (s *State) UpsertGuild(g *Guild) {
	if g == nil || g.ID == "" {
		return
	}
	s.Lock()
	defer s.Unlock()

	cur, ok := s.guilds[g.ID]
	if !ok {
		cp := *g
		s.guilds[g.ID] = &cp
		return
	}

	if g.Name != "" {
		cur.Name = g.Name
	}
	if g.MemberCount != 0 {
		cur.MemberCount = g.MemberCount
	}
	if g.Channels != nil {
		cur.Channels = g.Channels
	}
	if g.Roles != nil {
		cur.Roles = g.Roles
	}
	cur.Unavailable = g.Unavailable
}

// RemoveGuild drops the guild from the cache entirely.
func (s *State) RemoveGuild(id string) {
	s.Lock()
	defer s.Unlock()
	delete(s.guilds, id)
}

// MarkGuildUnavailable flags an outage without losing the cached state.
func (s *State) MarkGuildUnavailable(id string) {
	s.Lock()
	defer s.Unlock()
	if g, ok := s.guilds[id]; ok {
		g.Unavailable = true
	} else if id != "" {
		s.guilds[id] = &Guild{ID: id, Unavailable: true}
	}
}

// Guild returns the cached guild or nil.
func (s *State) Guild(id string) *Guild {
	s.RLock()
	defer s.RUnlock()
	if g, ok := s.guilds[id]; ok {
		cp := *g
		return &cp
	}
	return nil
}

// GuildCount reports how many guilds are cached, available or not.
func (s *State) GuildCount() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.guilds)
}

// UpsertUser stores or replaces a user profile. Users are never actively
// deleted.
func (s *State) UpsertUser(u *User) {
	if u == nil || u.ID == "" {
		return
	}
	s.Lock()
	defer s.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

// User returns the cached profile or nil. A nil result is an expected
// outcome, not an error: callers fall back to the request service.
func (s *State) User(id string) *User {
	s.RLock()
	defer s.RUnlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp
	}
	return nil
}

// upsertChannel maintains the owning guild's ordered channel list.
func (s *State) upsertChannel(c *Channel) {
	if c == nil || c.ID == "" || c.GuildID == "" {
		return
	}
	s.Lock()
	defer s.Unlock()

	g, ok := s.guilds[c.GuildID]
	if !ok {
		return
	}
	for i, cur := range g.Channels {
		if cur.ID == c.ID {
			g.Channels[i] = c
			return
		}
	}
	g.Channels = append(g.Channels, c)
}

func (s *State) removeChannel(c *Channel) {
	if c == nil || c.GuildID == "" {
		return
	}
	s.Lock()
	defer s.Unlock()

	g, ok := s.guilds[c.GuildID]
	if !ok {
		return
	}
	for i, cur := range g.Channels {
		if cur.ID == c.ID {
			g.Channels = append(g.Channels[:i], g.Channels[i+1:]...)
			return
		}
	}
}

// SetWebhooks replaces the cached webhook list for a channel wholesale,
// typically after the caller re-fetched it through the request service.
func (s *State) SetWebhooks(channelID string, hooks []*Webhook) {
	if channelID == "" {
		return
	}
	s.Lock()
	defer s.Unlock()
	s.webhooks[channelID] = append([]*Webhook(nil), hooks...)
}

// InvalidateWebhooks clears the slot for a channel. The webhooks-update
// event does not carry the new list; it only signals the cached entry is
// stale, so the engine clears and callers re-fetch.
func (s *State) InvalidateWebhooks(channelID string) {
	s.Lock()
	defer s.Unlock()
	delete(s.webhooks, channelID)
}

// Webhooks returns the cached list for a channel and whether a cached
// entry exists at all. An empty-but-present list is a valid cached value.
func (s *State) Webhooks(channelID string) ([]*Webhook, bool) {
	s.RLock()
	defer s.RUnlock()
	hooks, ok := s.webhooks[channelID]
	if !ok {
		return nil, false
	}
	return append([]*Webhook(nil), hooks...), true
}
