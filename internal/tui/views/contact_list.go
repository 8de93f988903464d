package views

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/meshphone/internal/service"
	"github.com/matheus3301/meshphone/internal/tui/ui"
)

// ContactSource is what the contact list reads.
type ContactSource interface {
	ContactList(ctx context.Context, deviceID string) ([]service.ContactEntry, error)
}

// ContactList shows one device's contacts with unread and mute badges.
type ContactList struct {
	*tview.Table
	theme   *ui.Theme
	src     ContactSource
	device  string
	label   string
	entries []service.ContactEntry
	filter  string
	err     error
	now     func() time.Time
}

// NewContactList creates the contact table.
func NewContactList(theme *ui.Theme, src ContactSource) *ContactList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	return &ContactList{
		Table: table,
		theme: theme,
		src:   src,
		now:   time.Now,
	}
}

// Name implements ui.Component.
func (cl *ContactList) Name() string {
	if cl.label != "" {
		return cl.label
	}
	return "Contacts"
}

// SetDevice switches the list to deviceID.
func (cl *ContactList) SetDevice(deviceID, label string) {
	if deviceID != cl.device {
		cl.filter = ""
		cl.Select(1, 0)
	}
	cl.device = deviceID
	cl.label = label
	if cl.label == "" {
		cl.label = deviceID
	}
}

// Device returns the device whose contacts are shown.
func (cl *ContactList) Device() string { return cl.device }

// Err returns the error of the last refresh, if any.
func (cl *ContactList) Err() error { return cl.err }

// Refresh implements ui.Component.
func (cl *ContactList) Refresh() {
	cl.entries = cl.entries[:0]
	if cl.device == "" {
		cl.render(0)
		return
	}
	all, err := cl.src.ContactList(context.Background(), cl.device)
	cl.err = err
	for _, e := range all {
		name := entryName(e)
		if cl.filter != "" && !containsFold(name, cl.filter) && !containsFold(e.PhoneNumber, cl.filter) {
			continue
		}
		cl.entries = append(cl.entries, e)
	}
	cl.render(len(all))
}

func entryName(e service.ContactEntry) string {
	if e.Label != "" {
		return e.Label
	}
	return e.DeviceID
}

func (cl *ContactList) render(total int) {
	row, _ := cl.GetSelection()
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" PHONE", 0},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
	}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	now := cl.now()
	for i, e := range cl.entries {
		name := entryName(e)
		fg := cl.theme.FgColor
		switch {
		case e.Muted:
			name += " (muted)"
			fg = cl.theme.MutedColor
		case e.Unread > 0:
			fg = cl.theme.UnreadColor
		}
		if e.Unread > 0 {
			name = fmt.Sprintf("(%d) %s", e.Unread, name)
		}
		last, ts := "", ""
		if e.Last != nil {
			last = preview(e.Last.Text, 60)
			if e.Last.SenderID == cl.device {
				last = "You: " + last
			}
			ts = formatTimestamp(e.Last.Timestamp, now)
		}
		r := i + 1
		cl.SetCell(r, 0, tview.NewTableCell(" "+clean(name)).SetExpansion(1).SetTextColor(fg))
		cl.SetCell(r, 1, tview.NewTableCell(" "+e.PhoneNumber).SetTextColor(fg))
		cl.SetCell(r, 2, tview.NewTableCell(" "+clean(last)).SetExpansion(2).SetTextColor(fg))
		cl.SetCell(r, 3, tview.NewTableCell(ts).SetTextColor(fg).SetAlign(tview.AlignRight))
	}

	switch {
	case cl.err != nil:
		cl.SetTitle(fmt.Sprintf(" %s: %s ", clean(cl.Name()), clean(cl.err.Error())))
	case cl.filter != "":
		cl.SetTitle(fmt.Sprintf(" %s (%d/%d) filter: %s ", clean(cl.Name()), len(cl.entries), total, clean(cl.filter)))
	default:
		cl.SetTitle(fmt.Sprintf(" %s (%d) ", clean(cl.Name()), len(cl.entries)))
	}
	if row < 1 {
		row = 1
	}
	if row > len(cl.entries) {
		row = len(cl.entries)
	}
	cl.Select(row, 0)
}

// SetFilter narrows the list to contacts matching filter.
func (cl *ContactList) SetFilter(filter string) {
	cl.filter = filter
	cl.Refresh()
}

// Filter returns the active filter.
func (cl *ContactList) Filter() string { return cl.filter }

// Visible returns the rows in display order.
func (cl *ContactList) Visible() []service.ContactEntry {
	return append([]service.ContactEntry(nil), cl.entries...)
}

// Selected returns the contact under the cursor.
func (cl *ContactList) Selected() (service.ContactEntry, bool) {
	row, _ := cl.GetSelection()
	return cl.ByIndex(row)
}

// ByIndex returns the nth visible contact (1-based).
func (cl *ContactList) ByIndex(n int) (service.ContactEntry, bool) {
	if n < 1 || n > len(cl.entries) {
		return service.ContactEntry{}, false
	}
	return cl.entries[n-1], true
}
