// Package ledger holds the receiver's per-user permissions and decides
// whether an inbound command may drive the presentation.
package ledger

import (
	"sort"
	"sync"

	"github.com/ehrlich-b/clicker/internal/wire"
)

// Permissions is what one connected user may do.
type Permissions struct {
	Nav     bool `json:"nav"`     // next, previous
	Control bool `json:"control"` // start, end, blackout
}

// DefaultPermissions is granted to a user when they come online.
var DefaultPermissions = Permissions{Nav: true, Control: false}

// Permission names one flag of Permissions.
type Permission string

const (
	PermNav     Permission = "nav"
	PermControl Permission = "control"
)

// Entry is one row of a ledger snapshot.
type Entry struct {
	User string
	Permissions
}

// Source looks up a user's permissions. Absent users are denied everything.
type Source interface {
	Lookup(user string) (Permissions, bool)
}

// Snapshot is an immutable Source, handy for tests and pure decisions.
type Snapshot map[string]Permissions

func (s Snapshot) Lookup(user string) (Permissions, bool) {
	p, ok := s[user]
	return p, ok
}

// Ledger tracks permissions for every user currently present in the room.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]Permissions
}

func New() *Ledger {
	return &Ledger{entries: make(map[string]Permissions)}
}

// Online adds user with default permissions. A user already present keeps
// the permissions the operator gave them, so a remote that reconnects does
// not lose its grants. Returns true if the user was added.
func (l *Ledger) Online(user string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[user]; ok {
		return false
	}
	l.entries[user] = DefaultPermissions
	return true
}

// Offline removes user. Returns true if the user was present.
func (l *Ledger) Offline(user string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[user]; !ok {
		return false
	}
	delete(l.entries, user)
	return true
}

// Apply updates the ledger from a presence message. Returns true if the
// ledger changed.
func (l *Ledger) Apply(p wire.Presence) bool {
	switch {
	case p.Status == wire.StatusOnline:
		return l.Online(p.User)
	case p.Status.Gone():
		return l.Offline(p.User)
	}
	return false
}

// Toggle flips one permission of a present user. ok is false when the user
// is absent or perm is unknown, in which case nothing changes.
func (l *Ledger) Toggle(user string, perm Permission) (p Permissions, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok = l.entries[user]
	if !ok {
		return Permissions{}, false
	}
	switch perm {
	case PermNav:
		p.Nav = !p.Nav
	case PermControl:
		p.Control = !p.Control
	default:
		return p, false
	}
	l.entries[user] = p
	return p, true
}

func (l *Ledger) Lookup(user string) (Permissions, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.entries[user]
	return p, ok
}

// Users returns every entry sorted by name.
func (l *Ledger) Users() []Entry {
	l.mu.RLock()
	out := make([]Entry, 0, len(l.entries))
	for u, p := range l.entries {
		out = append(out, Entry{User: u, Permissions: p})
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}

// Len is the number of present users.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
