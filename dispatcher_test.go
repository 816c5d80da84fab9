package amaterasu

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispatchFrame(event string, seq int64, data string) *Event {
	return &Event{
		Operation: OpDispatch,
		Type:      event,
		Sequence:  seq,
		RawData:   json.RawMessage(data),
	}
}

func TestDispatchTracksSequence(t *testing.T) {
	s := New("t", WithLogger(quietLogger()))

	for i := int64(1); i <= 5; i++ {
		s.dispatch(dispatchFrame(EventMessageCreate, i, `{"id":"m","author":{"id":"u1","username":"x"}}`))
	}
	assert.EqualValues(t, 5, s.Sequence(),
		"sequence after processing equals the last frame's sequence")
}

func TestDispatchDropsOutOfOrderAndDuplicates(t *testing.T) {
	s := New("t", WithLogger(quietLogger()))

	var delivered []int64
	s.On("PING", func(e *Event) { delivered = append(delivered, e.Sequence) })

	s.dispatch(dispatchFrame("PING", 3, `{}`))
	s.dispatch(dispatchFrame("PING", 2, `{}`)) // protocol violation, dropped
	s.dispatch(dispatchFrame("PING", 3, `{}`)) // duplicate, tolerated but not redelivered
	s.dispatch(dispatchFrame("PING", 4, `{}`))

	assert.Equal(t, []int64{3, 4}, delivered)
	assert.EqualValues(t, 4, s.Sequence())
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	s := New("t", WithLogger(quietLogger()))

	var order []int
	s.On("PING", func(e *Event) { order = append(order, 1) })
	s.On("PING", func(e *Event) { order = append(order, 2) })
	s.On("PING", func(e *Event) { order = append(order, 3) })

	s.dispatch(dispatchFrame("PING", 1, `{}`))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	s := New("t", WithLogger(quietLogger()))

	var after bool
	s.On("PING", func(e *Event) { panic("handler bug") })
	s.On("PING", func(e *Event) { after = true })

	require.NotPanics(t, func() {
		s.dispatch(dispatchFrame("PING", 1, `{}`))
	})
	assert.True(t, after, "later handlers still run after a panic")
	assert.EqualValues(t, 1, s.Sequence(), "committed state is unaffected")
}

func TestGuildCacheRules(t *testing.T) {
	s := New("t", WithLogger(quietLogger()))

	s.dispatch(dispatchFrame(EventGuildCreate, 1,
		`{"id":"g1","name":"home","member_count":3,"channels":[{"id":"c1","guild_id":"g1","name":"general"}]}`))

	g := s.State().Guild("g1")
	require.NotNil(t, g)
	assert.Equal(t, "home", g.Name)
	assert.Equal(t, 3, g.MemberCount)

	// Update merges onto the create: the renamed guild keeps its
	// channel list and member count.
	s.dispatch(dispatchFrame(EventGuildUpdate, 2, `{"id":"g1","name":"away"}`))
	g = s.State().Guild("g1")
	require.NotNil(t, g)
	assert.Equal(t, "away", g.Name)
	assert.Equal(t, 3, g.MemberCount)
	assert.Len(t, g.Channels, 1)

	// Unavailable is a sub-state, not absence.
	s.dispatch(dispatchFrame(EventGuildDelete, 3, `{"id":"g1","unavailable":true}`))
	g = s.State().Guild("g1")
	require.NotNil(t, g)
	assert.True(t, g.Unavailable)

	// A real delete removes the id entirely.
	s.dispatch(dispatchFrame(EventGuildDelete, 4, `{"id":"g1"}`))
	assert.Nil(t, s.State().Guild("g1"))
}

func TestChannelCacheRules(t *testing.T) {
	s := New("t", WithLogger(quietLogger()))

	s.dispatch(dispatchFrame(EventGuildCreate, 1, `{"id":"g1","name":"home"}`))
	s.dispatch(dispatchFrame(EventChannelCreate, 2, `{"id":"c1","guild_id":"g1","name":"general"}`))
	s.dispatch(dispatchFrame(EventChannelCreate, 3, `{"id":"c2","guild_id":"g1","name":"random"}`))

	g := s.State().Guild("g1")
	require.NotNil(t, g)
	require.Len(t, g.Channels, 2)

	s.dispatch(dispatchFrame(EventChannelUpdate, 4, `{"id":"c1","guild_id":"g1","name":"lobby"}`))
	g = s.State().Guild("g1")
	assert.Equal(t, "lobby", g.Channels[0].Name)

	s.dispatch(dispatchFrame(EventChannelDelete, 5, `{"id":"c1","guild_id":"g1"}`))
	g = s.State().Guild("g1")
	require.Len(t, g.Channels, 1)
	assert.Equal(t, "c2", g.Channels[0].ID)
}

func TestUserUpsertRules(t *testing.T) {
	s := New("t", WithLogger(quietLogger()))

	s.dispatch(dispatchFrame(EventMessageCreate, 1,
		`{"id":"m1","author":{"id":"u1","username":"rin","discriminator":"0002"}}`))
	require.NotNil(t, s.State().User("u1"))

	s.dispatch(dispatchFrame(EventGuildMemberAdd, 2,
		`{"guild_id":"g1","user":{"id":"u2","username":"len"}}`))
	require.NotNil(t, s.State().User("u2"))

	s.dispatch(dispatchFrame(EventUserUpdate, 3, `{"id":"u1","username":"rin2"}`))
	u := s.State().User("u1")
	require.NotNil(t, u)
	assert.Equal(t, "rin2", u.Username)
}

func TestWebhooksUpdateInvalidatesSlot(t *testing.T) {
	s := New("t", WithLogger(quietLogger()))

	s.State().SetWebhooks("c1", []*Webhook{{ID: "w1", ChannelID: "c1", Token: "tok"}})
	_, ok := s.State().Webhooks("c1")
	require.True(t, ok)

	s.dispatch(dispatchFrame(EventWebhooksUpdate, 1, `{"guild_id":"g1","channel_id":"c1"}`))

	_, ok = s.State().Webhooks("c1")
	assert.False(t, ok, "the slot is cleared, not repopulated: callers re-fetch")
}

func TestEventsWithoutCacheRulePassThrough(t *testing.T) {
	s := New("t", WithLogger(quietLogger()))

	var got json.RawMessage
	s.On("TYPING_START", func(e *Event) { got = e.RawData })

	s.dispatch(dispatchFrame("TYPING_START", 1, `{"channel_id":"c1","user_id":"u1"}`))
	assert.JSONEq(t, `{"channel_id":"c1","user_id":"u1"}`, string(got))
	assert.Equal(t, 0, s.State().GuildCount())
}
