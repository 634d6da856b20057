package realtime

import (
	"sort"
	"sync"

	"github.com/PaulBabatuyi/realtime-dm/internal/events"
	"github.com/rs/zerolog"
)

// Member is the presence payload of user.online, user.offline and the
// entries of presence.here.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Broadcaster pushes a frame to every subscriber of a channel without
// blocking.
type Broadcaster interface {
	Broadcast(channel string, f events.Frame)
}

// Tracker keeps the set of users with at least one live connection.
//
// Connections are tracked by id, so a duplicate disconnect of the same
// connection is a no-op and a user goes offline exactly once, when the last
// connection leaves. Transitions are broadcast while the tracker lock is
// held, which orders them against WithSnapshot.
type Tracker struct {
	mu      sync.Mutex
	conns   map[string]map[string]struct{} // user id -> connection ids
	members map[string]Member
	out     Broadcaster
	log     zerolog.Logger
}

// NewTracker returns an empty Tracker that announces transitions to out.
func NewTracker(out Broadcaster, log zerolog.Logger) *Tracker {
	return &Tracker{
		conns:   make(map[string]map[string]struct{}),
		members: make(map[string]Member),
		out:     out,
		log:     log,
	}
}

// Connect records connID for m. It reports whether m went online.
func (t *Tracker) Connect(m Member, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[m.ID]
	if !ok {
		set = make(map[string]struct{})
		t.conns[m.ID] = set
	}
	set[connID] = struct{}{}
	if ok {
		return false
	}
	t.members[m.ID] = m
	t.announce(events.UserOnline, m)
	return true
}

// Disconnect forgets connID. It reports whether the user went offline;
// unknown or repeated connection ids change nothing.
func (t *Tracker) Disconnect(userID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[userID]
	if !ok {
		return false
	}
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)
	if len(set) > 0 {
		return false
	}
	m := t.members[userID]
	delete(t.conns, userID)
	delete(t.members, userID)
	t.announce(events.UserOffline, m)
	return true
}

// IsOnline reports whether userID has a live connection.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.conns[userID]
	return ok
}

// Connections returns how many live connections userID has.
func (t *Tracker) Connections(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns[userID])
}

// Online returns the online members ordered by id.
func (t *Tracker) Online() []Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online()
}

// WithSnapshot calls fn with the online set while no transition can be
// broadcast. Subscribing inside fn guarantees the subscriber sees the
// snapshot before any later join or leave.
func (t *Tracker) WithSnapshot(fn func(online []Member)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.online())
}

func (t *Tracker) online() []Member {
	out := make([]Member, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Tracker) announce(name string, m Member) {
	if t.out == nil {
		return
	}
	f, err := events.NewFrame(events.PresenceChannel, name, m)
	if err != nil {
		t.log.Error().Err(err).Str("event", name).Msg("encode presence")
		return
	}
	t.log.Debug().Str("event", name).Str("user_id", m.ID).Msg("presence changed")
	t.out.Broadcast(events.PresenceChannel, f)
}
