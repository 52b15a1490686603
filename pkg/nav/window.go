// Package nav is an in-process stand-in for the browser window the
// exploration surface runs in: a location, a session history stack with
// replace/push semantics, and popstate/keydown/load event dispatch.
package nav

import (
	"net/url"
	"sync"
)

// EventType names an event source.
type EventType string

const (
	EventPopState EventType = "popstate"
	EventKeyDown  EventType = "keydown"
	EventLoad     EventType = "load"
)

// Event is delivered to listeners. State is set for popstate, Key for
// keydown and URL for every type.
type Event struct {
	Type  EventType
	State any
	Key   KeyEvent
	URL   string
}

// KeyEvent is a key press with its modifiers.
type KeyEvent struct {
	Key   string
	Ctrl  bool
	Alt   bool
	Meta  bool
	Shift bool
}

// Modifier reports whether a command-style modifier is held.
func (k KeyEvent) Modifier() bool {
	return k.Ctrl || k.Meta || k.Alt
}

// Handler receives dispatched events.
type Handler func(Event)

// ListenerID identifies a registration; func values are not comparable, so
// removal goes through the id.
type ListenerID uint64

// Entry is one slot of the session history.
type Entry struct {
	State any
	Title string
	URL   string
}

type listener struct {
	id ListenerID
	fn Handler
}

// Window holds the location, history stack and listeners.
type Window struct {
	mu        sync.Mutex
	entries   []Entry
	index     int
	listeners map[EventType][]listener
	nextID    ListenerID
}

// NewWindow opens a window at rawURL.
func NewWindow(rawURL string) *Window {
	return &Window{
		entries:   []Entry{{URL: rawURL}},
		listeners: make(map[EventType][]listener),
	}
}

// Location returns the parsed current URL.
func (w *Window) Location() *url.URL {
	w.mu.Lock()
	raw := w.entries[w.index].URL
	w.mu.Unlock()
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{Path: raw}
	}
	return u
}

// Current returns the current history entry.
func (w *Window) Current() Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries[w.index]
}

// Len returns the number of history entries.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// ReplaceState overwrites the current entry.
func (w *Window) ReplaceState(state any, title, rawURL string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[w.index] = Entry{State: state, Title: title, URL: w.resolve(rawURL)}
}

// PushState adds an entry after the current one, discarding forward history.
func (w *Window) PushState(state any, title, rawURL string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries[:w.index+1], Entry{State: state, Title: title, URL: w.resolve(rawURL)})
	w.index = len(w.entries) - 1
}

// Back moves one entry back and fires popstate. It reports whether it moved.
func (w *Window) Back() bool {
	return w.traverse(-1)
}

// Forward moves one entry forward and fires popstate.
func (w *Window) Forward() bool {
	return w.traverse(1)
}

// Assign performs a full navigation to rawURL: a new entry without state and
// a load event.
func (w *Window) Assign(rawURL string) {
	w.mu.Lock()
	u := w.resolve(rawURL)
	w.entries = append(w.entries[:w.index+1], Entry{URL: u})
	w.index = len(w.entries) - 1
	w.mu.Unlock()

	w.dispatch(Event{Type: EventLoad, URL: u})
}

// DispatchKey fires a keydown event.
func (w *Window) DispatchKey(k KeyEvent) {
	w.dispatch(Event{Type: EventKeyDown, Key: k, URL: w.Location().String()})
}

// AddEventListener registers fn for typ.
func (w *Window) AddEventListener(typ EventType, fn Handler) ListenerID {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.listeners[typ] = append(w.listeners[typ], listener{id: id, fn: fn})
	return id
}

// RemoveEventListener drops the registration id. Unknown ids are ignored.
func (w *Window) RemoveEventListener(typ EventType, id ListenerID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ls := w.listeners[typ]
	for i, l := range ls {
		if l.id == id {
			w.listeners[typ] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// ListenerCount returns how many listeners typ has.
func (w *Window) ListenerCount(typ EventType) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.listeners[typ])
}

func (w *Window) traverse(delta int) bool {
	w.mu.Lock()
	next := w.index + delta
	if next < 0 || next >= len(w.entries) {
		w.mu.Unlock()
		return false
	}
	w.index = next
	e := w.entries[next]
	w.mu.Unlock()

	w.dispatch(Event{Type: EventPopState, State: e.State, URL: e.URL})
	return true
}

func (w *Window) dispatch(ev Event) {
	w.mu.Lock()
	ls := append([]listener(nil), w.listeners[ev.Type]...)
	w.mu.Unlock()

	for _, l := range ls {
		l.fn(ev)
	}
}

// resolve makes rawURL absolute against the current entry. Caller holds mu.
func (w *Window) resolve(rawURL string) string {
	base, err := url.Parse(w.entries[w.index].URL)
	if err != nil {
		return rawURL
	}
	ref, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return base.ResolveReference(ref).String()
}
