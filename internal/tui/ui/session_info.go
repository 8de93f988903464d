package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// SessionData holds client information for the header.
type SessionData struct {
	Session       string
	UserID        string
	Coordinator   bool
	Link          string
	Online        bool
	Peers         int
	Devices       int
	Unread        int
	PendingOutbox int
	Uptime        time.Duration
}

// SessionInfo displays client metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the session info.
func (si *SessionInfo) Update(data SessionData) {
	si.Clear()

	fg := ColorTag(si.theme.FgColor)
	counter := ColorTag(si.theme.CounterColor)
	link := ColorTag(si.theme.LinkDownColor)
	if data.Online {
		link = ColorTag(si.theme.LinkOnlineColor)
	}
	role := "participant"
	if data.Coordinator {
		role = "coordinator"
	}
	row := func(label, color, value string) string {
		return fmt.Sprintf("[%s::b]%-8s[-:-:-] [%s]%s[-]\n", fg, label+":", color, tview.Escape(value))
	}

	_, _ = fmt.Fprint(si,
		row("Session", counter, data.Session),
		row("User", counter, fmt.Sprintf("%s (%s)", data.UserID, role)),
		row("Link", link, fmt.Sprintf("%s, %d peers", data.Link, data.Peers)),
		row("Devices", counter, fmt.Sprintf("%d", data.Devices)),
		row("Unread", counter, fmt.Sprintf("%d", data.Unread)),
		row("Outbox", counter, fmt.Sprintf("%d pending", data.PendingOutbox)),
		row("Uptime", counter, formatDuration(data.Uptime)),
	)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
