package amaterasu

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Handler receives the raw decoded payload of one dispatch event. It
// runs synchronously on the engine's run goroutine: long blocking work
// stalls heartbeat delivery and must be offloaded by the handler itself.
type Handler func(e *Event)

type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *slog.Logger
}

func newDispatcher(log *slog.Logger) *dispatcher {
	return &dispatcher{
		handlers: map[string][]Handler{},
		log:      log,
	}
}

func (d *dispatcher) on(event string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = append(d.handlers[event], h)
}

// emit invokes every handler registered for the event name, in
// registration order. A panicking handler is isolated: logged, and the
// remaining handlers still run. Cache and session state were committed
// before emit, so a failed handler cannot corrupt them.
func (d *dispatcher) emit(e *Event) {
	d.mu.RLock()
	handlers := d.handlers[e.Type]
	d.mu.RUnlock()

	for _, h := range handlers {
		d.invoke(h, e)
	}
}

func (d *dispatcher) invoke(h Handler, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event handler panicked", "event", e.Type, "panic", r)
		}
	}()
	h(e)
}

// cacheRules is the fixed routing table from event name to cache-update
// rule. Events without a rule pass through to handlers unchanged.
var cacheRules = map[string]func(cache *State, raw json.RawMessage) error{
	EventReady: func(cache *State, raw json.RawMessage) error {
		var r Ready
		if err := jsonIter.Unmarshal(raw, &r); err != nil {
			return err
		}
		cache.UpsertUser(r.User)
		for _, g := range r.Guilds {
			cache.UpsertGuild(g)
		}
		return nil
	},
	EventGuildCreate: func(cache *State, raw json.RawMessage) error {
		var g Guild
		if err := jsonIter.Unmarshal(raw, &g); err != nil {
			return err
		}
		cache.UpsertGuild(&g)
		return nil
	},
	EventGuildUpdate: func(cache *State, raw json.RawMessage) error {
		var g Guild
		if err := jsonIter.Unmarshal(raw, &g); err != nil {
			return err
		}
		cache.UpsertGuild(&g)
		return nil
	},
	EventGuildDelete: func(cache *State, raw json.RawMessage) error {
		var g GuildDelete
		if err := jsonIter.Unmarshal(raw, &g); err != nil {
			return err
		}
		if g.Unavailable {
			cache.MarkGuildUnavailable(g.ID)
		} else {
			cache.RemoveGuild(g.ID)
		}
		return nil
	},
	EventChannelCreate: channelRule,
	EventChannelUpdate: channelRule,
	EventChannelDelete: func(cache *State, raw json.RawMessage) error {
		var c Channel
		if err := jsonIter.Unmarshal(raw, &c); err != nil {
			return err
		}
		cache.removeChannel(&c)
		cache.InvalidateWebhooks(c.ID)
		return nil
	},
	EventMessageCreate: func(cache *State, raw json.RawMessage) error {
		var m Message
		if err := jsonIter.Unmarshal(raw, &m); err != nil {
			return err
		}
		cache.UpsertUser(m.Author)
		return nil
	},
	EventGuildMemberAdd: func(cache *State, raw json.RawMessage) error {
		var m GuildMemberAdd
		if err := jsonIter.Unmarshal(raw, &m); err != nil {
			return err
		}
		cache.UpsertUser(m.User)
		return nil
	},
	EventUserUpdate: func(cache *State, raw json.RawMessage) error {
		var u User
		if err := jsonIter.Unmarshal(raw, &u); err != nil {
			return err
		}
		cache.UpsertUser(&u)
		return nil
	},
	EventWebhooksUpdate: func(cache *State, raw json.RawMessage) error {
		var w WebhooksUpdate
		if err := jsonIter.Unmarshal(raw, &w); err != nil {
			return err
		}
		cache.InvalidateWebhooks(w.ChannelID)
		return nil
	},
}

func channelRule(cache *State, raw json.RawMessage) error {
	var c Channel
	if err := jsonIter.Unmarshal(raw, &c); err != nil {
		return err
	}
	cache.upsertChannel(&c)
	return nil
}

// dispatch processes one dispatch-opcode frame: sequence validation,
// cache update, then handler delivery. Runs on the run goroutine only.
func (s *Session) dispatch(e *Event) {
	cur := s.sequence.Load()
	if e.Sequence < cur {
		s.log.Warn("dropping out-of-order dispatch",
			"event", e.Type, "seq", e.Sequence, "have", cur, "err", ErrProtocol)
		return
	}
	if e.Sequence == cur && cur != 0 {
		// Duplicate delivery after a resume replay; tolerated, not
		// re-delivered.
		s.log.Debug("dropping duplicate dispatch", "event", e.Type, "seq", e.Sequence)
		return
	}
	s.sequence.Store(e.Sequence)

	if rule, ok := cacheRules[e.Type]; ok && len(e.RawData) > 0 {
		if err := rule(s.cache, e.RawData); err != nil {
			s.log.Warn("cache rule failed", "event", e.Type, "err", err)
		}
	}

	s.dispatcher.emit(e)
}
