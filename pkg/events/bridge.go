// Package events keeps exactly one listener per external event source bound
// to the latest handler closure.
package events

import (
	"reflect"
	"sync"

	"github.com/vanderheijden86/vizexplore/pkg/nav"
)

// Target is the event source a Bridge registers on.
type Target interface {
	AddEventListener(typ nav.EventType, fn nav.Handler) nav.ListenerID
	RemoveEventListener(typ nav.EventType, id nav.ListenerID)
}

type binding struct {
	id   nav.ListenerID
	deps []any
}

// Bridge owns a single registration per event type. Rebinding with changed
// dependencies removes the previous listener before attaching the new one;
// Close removes them all.
type Bridge struct {
	target Target

	mu       sync.Mutex
	bindings map[nav.EventType]*binding
	closed   bool
}

// NewBridge creates a bridge over target.
func NewBridge(target Target) *Bridge {
	return &Bridge{
		target:   target,
		bindings: make(map[nav.EventType]*binding),
	}
}

// Bind makes handler the listener for typ. It is meant to be called on every
// render pass: when deps equal the previous bind's deps the existing
// listener stays, otherwise it is swapped. Bind reports whether it swapped.
func (b *Bridge) Bind(typ nav.EventType, deps []any, handler nav.Handler) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}

	cur := b.bindings[typ]
	if cur != nil && sameDeps(cur.deps, deps) {
		return false
	}
	if cur != nil {
		b.target.RemoveEventListener(typ, cur.id)
	}
	id := b.target.AddEventListener(typ, handler)
	b.bindings[typ] = &binding{id: id, deps: append([]any(nil), deps...)}
	return true
}

// Unbind removes the listener for typ, if any.
func (b *Bridge) Unbind(typ nav.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur := b.bindings[typ]; cur != nil {
		b.target.RemoveEventListener(typ, cur.id)
		delete(b.bindings, typ)
	}
}

// Active returns how many listeners the bridge holds for typ (0 or 1).
func (b *Bridge) Active(typ nav.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bindings[typ] != nil {
		return 1
	}
	return 0
}

// Close removes every listener. Later Binds are ignored.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for typ, cur := range b.bindings {
		b.target.RemoveEventListener(typ, cur.id)
	}
	b.bindings = make(map[nav.EventType]*binding)
	b.closed = true
}

func sameDeps(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
