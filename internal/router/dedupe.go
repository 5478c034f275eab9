package router

// boundedSet is a FIFO-evicting string set. Once the cap is reached the
// oldest member is dropped, bounding memory over arbitrarily long sessions.
type boundedSet struct {
	cap   int
	m     map[string]struct{}
	order []string
}

func newBoundedSet(cap int) *boundedSet {
	return &boundedSet{
		cap: cap,
		m:   make(map[string]struct{}, cap),
	}
}

func (s *boundedSet) Add(key string) {
	if _, ok := s.m[key]; ok {
		return
	}
	if len(s.order) >= s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.m, oldest)
	}
	s.m[key] = struct{}{}
	s.order = append(s.order, key)
}

func (s *boundedSet) Contains(key string) bool {
	_, ok := s.m[key]
	return ok
}

func (s *boundedSet) Len() int { return len(s.m) }
