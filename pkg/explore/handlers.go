package explore

import (
	"strings"

	"github.com/vanderheijden86/vizexplore/pkg/control"
	"github.com/vanderheijden86/vizexplore/pkg/debug"
	"github.com/vanderheijden86/vizexplore/pkg/nav"
)

// bindListeners (re)binds the window listeners for this pass. The bridge
// keeps the existing listener when the captured values did not change.
func (s *Session) bindListeners(snap control.Snapshot) {
	def := s.definition(snap)

	s.bridge.Bind(nav.EventPopState, []any{s.opts.Route}, s.handlePopState)
	s.bridge.Bind(nav.EventKeyDown, []any{def.ChartID, def.Persistable()}, s.shortcutHandler(def.ChartID))
}

// handlePopState restores the controls stored in the history entry the user
// navigated to.
func (s *Session) handlePopState(ev nav.Event) {
	state, ok := ev.State.(map[string]any)
	if !ok || len(state) == 0 {
		return
	}
	debug.Log("explore: restoring %d controls from history", len(state))
	s.Restore(state)
}

// shortcutHandler runs the query on modifier+Enter and overwrites the saved
// chart on modifier+S. Without a chart there is nothing to overwrite.
func (s *Session) shortcutHandler(chartID int64) nav.Handler {
	return func(ev nav.Event) {
		k := ev.Key
		if !k.Modifier() {
			return
		}
		switch strings.ToLower(k.Key) {
		case "enter":
			if err := s.RunQuery(); err != nil {
				debug.Log("explore: shortcut query: %v", err)
			}
		case "s":
			if chartID == 0 {
				return
			}
			go func() {
				if err := s.Save(s.ctx); err != nil {
					debug.Warn("Failed to save chart: %v", err)
				}
			}()
		}
	}
}
