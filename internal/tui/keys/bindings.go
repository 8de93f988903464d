// Package keys maps key events to named actions, per page.
package keys

import (
	"github.com/gdamore/tcell/v2"

	"github.com/matheus3301/meshphone/internal/tui/ui"
)

// Action represents a keybinding action.
type Action struct {
	Key     tcell.Key
	Rune    rune
	Hint    string // key label shown in the menu; empty hides the action
	Help    string
	Handler func()
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

type scope struct {
	order   []string
	actions map[string]*Action
}

func (s *scope) add(name string, a *Action) {
	if s.actions == nil {
		s.actions = make(map[string]*Action)
	}
	if _, ok := s.actions[name]; !ok {
		s.order = append(s.order, name)
	}
	s.actions[name] = a
}

func (s *scope) match(ev *tcell.EventKey) *Action {
	for _, name := range s.order {
		if a := s.actions[name]; a.Matches(ev) {
			return a
		}
	}
	return nil
}

// Registry holds keybindings organized by page. Page bindings win over
// global ones; within a scope the first registered match wins.
type Registry struct {
	global scope
	pages  map[string]*scope
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{pages: make(map[string]*scope)}
}

// AddGlobal registers a global keybinding.
func (r *Registry) AddGlobal(name string, action *Action) {
	r.global.add(name, action)
}

// AddPage registers a page-specific keybinding.
func (r *Registry) AddPage(page, name string, action *Action) {
	s, ok := r.pages[page]
	if !ok {
		s = &scope{}
		r.pages[page] = s
	}
	s.add(name, action)
}

// Hints returns the menu hints for page: page bindings first, then
// globals, in registration order.
func (r *Registry) Hints(page string) []ui.MenuHint {
	var hints []ui.MenuHint
	collect := func(s *scope) {
		for _, name := range s.order {
			if a := s.actions[name]; a.Hint != "" {
				hints = append(hints, ui.MenuHint{Key: a.Hint, Description: a.Help})
			}
		}
	}
	if s, ok := r.pages[page]; ok {
		collect(s)
	}
	collect(&r.global)
	return hints
}

// HandleEvent dispatches a key event to the matching action of page.
// Returns true if a handler ran.
func (r *Registry) HandleEvent(page string, ev *tcell.EventKey) bool {
	if s, ok := r.pages[page]; ok {
		if a := s.match(ev); a != nil {
			a.Handler()
			return true
		}
	}
	if a := r.global.match(ev); a != nil {
		a.Handler()
		return true
	}
	return false
}
