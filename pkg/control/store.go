package control

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/vanderheijden86/vizexplore/pkg/debug"
)

// Origin says which mutator produced a Change.
type Origin int

const (
	OriginUser Origin = iota
	OriginReplace
	OriginReconcile
)

func (o Origin) String() string {
	switch o {
	case OriginReplace:
		return "replace"
	case OriginReconcile:
		return "reconcile"
	default:
		return "user"
	}
}

// Change is one classified mutation.
type Change struct {
	Seq      uint64
	Origin   Origin
	Previous Snapshot
	Current  Snapshot
	Result   Result
}

type subscriber struct {
	id uint64
	fn func(Change)
}

// Store holds the live control snapshot. It is the single source of mutable
// truth for a session; everything else derives from the snapshots it hands
// out.
//
// Snapshot capture and classification happen under one lock, so a mutation
// can never slip between the previous/current pair it is classified with.
// Changes are queued and delivered in order; a subscriber that mutates the
// store gets its own change delivered after it returns.
type Store struct {
	mu       sync.Mutex
	current  Snapshot
	previous Snapshot
	seq      uint64

	pending    *queue.Queue
	delivering bool

	subs   []subscriber
	nextID uint64
}

// NewStore creates a store seeded with initial. The initial snapshot is not
// classified.
func NewStore(initial Snapshot) *Store {
	return &Store{
		current:  initial,
		previous: initial,
		pending:  queue.New(),
	}
}

// Get returns the current snapshot.
func (s *Store) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Previous returns the snapshot one mutation ago.
func (s *Store) Previous() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous
}

// Subscribe registers fn for every future Change. The returned func removes
// it.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Set merges u into the named control, keeping its flags and label. Unknown
// names become plain query-affecting controls.
func (s *Store) Set(u Update) {
	s.mutate(OriginUser, func(cur Snapshot) (Snapshot, Result) {
		c, ok := cur.controls[u.Name]
		if !ok {
			c = Control{Name: u.Name}
		}
		c = c.clone()
		c.Value = u.Value
		c.ValidationErrors = append([]string(nil), u.ValidationErrors...)
		next := cur.With(c)
		return next, Classify(cur, next)
	})
}

// ReplaceAll overwrites the whole snapshot, e.g. on back/forward navigation.
func (s *Store) ReplaceAll(next Snapshot) {
	s.mutate(OriginReplace, func(cur Snapshot) (Snapshot, Result) {
		return next, Classify(cur, next)
	})
}

// Reconcile re-derives controls from defs: unknown names are added with
// their defaults, known ones keep their value but take the declared flags.
// The pass classifies every control, since the set of known controls may
// have grown.
func (s *Store) Reconcile(defs []Definition) {
	s.mutate(OriginReconcile, func(cur Snapshot) (Snapshot, Result) {
		next := reconcile(cur, defs)
		return next, ClassifyAll(next)
	})
}

func (s *Store) mutate(origin Origin, apply func(Snapshot) (Snapshot, Result)) {
	s.mu.Lock()
	prev := s.current
	next, res := apply(prev)
	s.previous = prev
	s.current = next
	s.seq++
	s.pending.Add(Change{
		Seq:      s.seq,
		Origin:   origin,
		Previous: prev,
		Current:  next,
		Result:   res,
	})
	debug.Log("control: %s mutation #%d changed=%v", origin, s.seq, res.Changed)
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	s.mu.Unlock()

	s.drain()
}

func (s *Store) drain() {
	for {
		s.mu.Lock()
		if s.pending.Length() == 0 {
			s.delivering = false
			s.mu.Unlock()
			return
		}
		ch := s.pending.Remove().(Change)
		subs := append([]subscriber(nil), s.subs...)
		s.mu.Unlock()

		for _, sub := range subs {
			sub.fn(ch)
		}
	}
}

func reconcile(cur Snapshot, defs []Definition) Snapshot {
	next := cur
	for _, d := range defs {
		c, ok := next.controls[d.Name]
		if !ok {
			next = next.With(d.Control())
			continue
		}
		c = c.clone()
		c.RenderTrigger = d.RenderTrigger
		c.DontRefreshOnChange = d.DontRefreshOnChange
		if d.Label != "" {
			c.Label = d.Label
		}
		next = next.With(c)
	}
	return next
}
