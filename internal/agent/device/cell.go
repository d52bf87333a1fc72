package device

import "sync/atomic"

// Lease is proof that a camera was placed in a Cell. It stays valid until
// the camera is taken out.
type Lease struct {
	cell *Cell
	cam  Camera
}

// Camera returns the leased camera.
func (l *Lease) Camera() Camera { return l.cam }

// Valid reports whether the cell still holds this lease.
func (l *Lease) Valid() bool { return l.cell.p.Load() == l }

// Cell holds the camera currently owned by a session so another goroutine
// can seize it. Take and Reclaim swap the slot atomically, so exactly one
// caller ends up responsible for a given camera.
type Cell struct {
	p atomic.Pointer[Lease]
}

// Put stores cam and returns its lease, replacing any previous occupant.
func (c *Cell) Put(cam Camera) *Lease {
	l := &Lease{cell: c, cam: cam}
	c.p.Store(l)
	return l
}

// Take empties the cell and returns what it held, or nil.
func (c *Cell) Take() Camera {
	l := c.p.Swap(nil)
	if l == nil {
		return nil
	}
	return l.cam
}

// Reclaim empties the cell only if it still holds l.
func (c *Cell) Reclaim(l *Lease) bool {
	return c.p.CompareAndSwap(l, nil)
}

// Held reports whether the cell is occupied.
func (c *Cell) Held() bool { return c.p.Load() != nil }
