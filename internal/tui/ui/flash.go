package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// FlashLevel tells an incoming-message alert apart from command feedback.
type FlashLevel int

const (
	// FlashInfo confirms a command, such as a mute toggle or a cleared history.
	FlashInfo FlashLevel = iota
	// FlashWarn reports misuse of a command.
	FlashWarn
	// FlashErr reports a failed service call.
	FlashErr
	// FlashAlert announces a message that arrived for an unmuted conversation.
	FlashAlert
)

// How long each kind of notice stays on the bar.
var flashTTL = map[FlashLevel]time.Duration{
	FlashInfo:  5 * time.Second,
	FlashWarn:  8 * time.Second,
	FlashErr:   10 * time.Second,
	FlashAlert: 6 * time.Second,
}

// FlashMessage is the notice shown under the pages.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

// FlashModel keeps the latest notice. The alerter writes to it from the
// dispatcher goroutine and the UI reads it on redraw.
type FlashModel struct {
	mu      sync.RWMutex
	current FlashMessage
	now     func() time.Time
	watchCh chan FlashMessage
}

func NewFlashModel() *FlashModel {
	return &FlashModel{
		now:     time.Now,
		watchCh: make(chan FlashMessage, 8),
	}
}

func (f *FlashModel) Info(msg string) { f.post(FlashInfo, msg) }

func (f *FlashModel) Warn(msg string) { f.post(FlashWarn, msg) }

func (f *FlashModel) Err(err error) { f.post(FlashErr, err.Error()) }

// Alert shows an incoming message. It replaces whatever notice is showing.
func (f *FlashModel) Alert(msg string) { f.post(FlashAlert, msg) }

func (f *FlashModel) post(level FlashLevel, text string) {
	fm := FlashMessage{Text: text, Level: level, Expires: f.now().Add(flashTTL[level])}
	f.mu.Lock()
	f.current = fm
	f.mu.Unlock()
	// A full channel already guarantees a pending redraw.
	select {
	case f.watchCh <- fm:
	default:
	}
}

// Current returns the notice on display, or nil once it has expired.
func (f *FlashModel) Current() *FlashMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current.Text == "" || f.now().After(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}

// Watch wakes the redraw loop when a notice is posted.
func (f *FlashModel) Watch() <-chan FlashMessage {
	return f.watchCh
}

// FlashBar renders the current notice in the level's theme color.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &FlashBar{TextView: tv, theme: theme}
}

func (fb *FlashBar) color(level FlashLevel) tcell.Color {
	switch level {
	case FlashWarn:
		return fb.theme.FlashWarnColor
	case FlashErr:
		return fb.theme.FlashErrColor
	case FlashAlert:
		return fb.theme.FlashAlertColor
	default:
		return fb.theme.FlashInfoColor
	}
}

// Update shows msg, or blanks the bar when msg is nil.
func (fb *FlashBar) Update(msg *FlashMessage) {
	fb.Clear()
	if msg == nil {
		return
	}
	_, _ = fmt.Fprintf(fb, " [%s]%s[-]", ColorTag(fb.color(msg.Level)), tview.Escape(msg.Text))
}
