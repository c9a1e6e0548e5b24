package registry

// Snapshot is an immutable view of the registry. Bodies are returned by value
// in registration order.
type Snapshot struct {
	version uint64
	bodies  map[string]Body
	order   []string
}

// Version increases with every registry mutation.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len returns the number of bodies.
func (s *Snapshot) Len() int {
	return len(s.bodies)
}

// Get returns one body.
func (s *Snapshot) Get(id string) (Body, bool) {
	b, ok := s.bodies[id]
	if ok {
		b.Config = b.Config.Clone()
	}
	return b, ok
}

// All returns every body.
func (s *Snapshot) All() []Body {
	out := make([]Body, 0, len(s.order))
	for _, id := range s.order {
		b := s.bodies[id]
		b.Config = b.Config.Clone()
		out = append(out, b)
	}
	return out
}

// Selected returns the selected bodies.
func (s *Snapshot) Selected() []Body {
	var out []Body
	for _, id := range s.order {
		if b := s.bodies[id]; b.Selected {
			b.Config = b.Config.Clone()
			out = append(out, b)
		}
	}
	return out
}

// SelectedIDs returns the ids of the selected bodies.
func (s *Snapshot) SelectedIDs() []string {
	var out []string
	for _, id := range s.order {
		if s.bodies[id].Selected {
			out = append(out, id)
		}
	}
	return out
}

// clone copies the map and order slice. Body values are copied by the map
// copy; element blocks are never mutated in place so sharing them is safe.
func (s *Snapshot) clone() *Snapshot {
	bodies := make(map[string]Body, len(s.bodies)+1)
	for k, v := range s.bodies {
		bodies[k] = v
	}
	order := make([]string, len(s.order), len(s.order)+1)
	copy(order, s.order)
	return &Snapshot{bodies: bodies, order: order}
}
