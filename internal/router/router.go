// Package router correlates frames forwarded to the vision service with the
// producer connection that must receive the eventual reply. Replies are
// asynchronous and may arrive after later frames were processed, so each
// in-flight frame id maps to its owner until claimed or expired.
//
// The table is not safe for concurrent use; it is owned by the gateway's
// dispatch loop. Expiry is a per-entry deadline checked lazily on Take plus a
// periodic Sweep, rather than one timer per key.
package router

import "time"

type entry struct {
	owner     any
	expiresAt time.Time
}

// Table maps in-flight frame ids to their owning client.
type Table struct {
	ttl      time.Duration
	routes   map[string]entry
	onExpire func(frameID string, owner any)
	now      func() time.Time
}

// New creates a table with the given TTL. onExpire fires once per entry that
// ages out unclaimed; it is diagnostic only, there is no retry.
func New(ttl time.Duration, onExpire func(frameID string, owner any)) *Table {
	return &Table{
		ttl:      ttl,
		routes:   make(map[string]entry),
		onExpire: onExpire,
		now:      time.Now,
	}
}

// Set registers a route, replacing any prior route for the same frame id and
// restarting its TTL.
func (t *Table) Set(frameID string, owner any) {
	t.routes[frameID] = entry{owner: owner, expiresAt: t.now().Add(t.ttl)}
}

// Take removes and returns the route for frameID. An entry past its deadline
// is treated as already expired and cannot be claimed.
func (t *Table) Take(frameID string) (any, bool) {
	e, ok := t.routes[frameID]
	if !ok {
		return nil, false
	}
	delete(t.routes, frameID)
	if !t.now().Before(e.expiresAt) {
		if t.onExpire != nil {
			t.onExpire(frameID, e.owner)
		}
		return nil, false
	}
	return e.owner, true
}

// Delete removes the route for frameID without firing the expiry callback.
func (t *Table) Delete(frameID string) {
	delete(t.routes, frameID)
}

// DeleteByOwner removes all routes held by owner and returns how many were
// removed. Invoked on client disconnect.
func (t *Table) DeleteByOwner(owner any) int {
	n := 0
	for id, e := range t.routes {
		if e.owner == owner {
			delete(t.routes, id)
			n++
		}
	}
	return n
}

// Sweep removes expired routes, firing the expiry callback for each, and
// returns how many were removed.
func (t *Table) Sweep() int {
	now := t.now()
	n := 0
	for id, e := range t.routes {
		if !now.Before(e.expiresAt) {
			delete(t.routes, id)
			n++
			if t.onExpire != nil {
				t.onExpire(id, e.owner)
			}
		}
	}
	return n
}

// Len returns the number of in-flight routes.
func (t *Table) Len() int { return len(t.routes) }
