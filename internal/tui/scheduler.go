package tui

import (
	"github.com/rivo/tview"

	"github.com/matheus3301/meshphone/internal/reactive"
)

// Scheduler runs controller flushes on the tview event loop, so component
// callbacks may touch widgets directly.
type Scheduler struct {
	app *tview.Application
}

var _ reactive.Scheduler = (*Scheduler)(nil)

// NewScheduler creates a scheduler for app.
func NewScheduler(app *tview.Application) *Scheduler {
	return &Scheduler{app: app}
}

// Schedule queues fn as one frame. QueueUpdateDraw blocks when called on the
// event loop itself, so the hand-off happens on its own goroutine.
func (s *Scheduler) Schedule(fn func()) {
	go s.app.QueueUpdateDraw(fn)
}
