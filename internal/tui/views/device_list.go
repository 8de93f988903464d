package views

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/tui/ui"
)

// DeviceSource is what the device list reads.
type DeviceSource interface {
	Devices() []domain.Device
	HasLocalAccess(deviceID string) bool
	TotalUnread(viewerID string) int
}

// DeviceList is the root page: every known device, own ones first.
type DeviceList struct {
	*tview.Table
	theme   *ui.Theme
	src     DeviceSource
	self    string
	devices []domain.Device
	filter  string
}

// NewDeviceList creates the device table. self is the local user ID.
func NewDeviceList(theme *ui.Theme, src DeviceSource, self string) *DeviceList {
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

	return &DeviceList{
		Table: table,
		theme: theme,
		src:   src,
		self:  self,
	}
}

// Name implements ui.Component.
func (dl *DeviceList) Name() string { return "Devices" }

// Refresh implements ui.Component.
func (dl *DeviceList) Refresh() {
	all := dl.src.Devices()
	dl.devices = dl.devices[:0]
	for _, d := range all {
		if d.IsStub() {
			continue
		}
		if dl.filter != "" && !containsFold(d.Label, dl.filter) && !containsFold(d.ID, dl.filter) &&
			!containsFold(domain.PhoneNumber(d.ID), dl.filter) {
			continue
		}
		dl.devices = append(dl.devices, d)
	}
	slices.SortFunc(dl.devices, func(a, b domain.Device) int {
		if ao, bo := a.OwnerID == dl.self, b.OwnerID == dl.self; ao != bo {
			if ao {
				return -1
			}
			return 1
		}
		return cmp.Or(cmp.Compare(a.OwnerID, b.OwnerID), cmp.Compare(a.Label, b.Label), cmp.Compare(a.ID, b.ID))
	})
	dl.render(len(all))
}

func (dl *DeviceList) render(total int) {
	row, _ := dl.GetSelection()
	dl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" LABEL", 1},
		{" PHONE", 1},
		{" OWNER", 1},
		{" UNREAD", 0},
		{" ACCESS", 0},
	}
	for col, h := range headers {
		dl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(dl.theme.TableHeaderFg).
			SetBackgroundColor(dl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	for i, d := range dl.devices {
		label := d.Label
		if label == "" {
			label = d.ID
		}
		access := "remote"
		unread := ""
		fg := dl.theme.DimColor
		if dl.src.HasLocalAccess(d.ID) {
			access = "local"
			fg = dl.theme.FgColor
			if n := dl.src.TotalUnread(d.ID); n > 0 {
				unread = fmt.Sprintf("%d", n)
			}
		}
		r := i + 1
		dl.SetCell(r, 0, tview.NewTableCell(" "+clean(label)).SetExpansion(1).SetTextColor(fg))
		dl.SetCell(r, 1, tview.NewTableCell(" "+domain.PhoneNumber(d.ID)).SetExpansion(1).SetTextColor(fg))
		dl.SetCell(r, 2, tview.NewTableCell(" "+clean(d.OwnerID)).SetExpansion(1).SetTextColor(fg))
		dl.SetCell(r, 3, tview.NewTableCell(unread).SetTextColor(dl.theme.UnreadColor).SetAlign(tview.AlignRight))
		dl.SetCell(r, 4, tview.NewTableCell(" "+access).SetTextColor(fg))
	}

	if dl.filter != "" {
		dl.SetTitle(fmt.Sprintf(" Devices (%d/%d) filter: %s ", len(dl.devices), total, clean(dl.filter)))
	} else {
		dl.SetTitle(fmt.Sprintf(" Devices (%d) ", len(dl.devices)))
	}
	if row < 1 {
		row = 1
	}
	if row > len(dl.devices) {
		row = len(dl.devices)
	}
	dl.Select(row, 0)
}

// SetFilter narrows the list to devices matching filter.
func (dl *DeviceList) SetFilter(filter string) {
	dl.filter = filter
	dl.Refresh()
}

// Filter returns the active filter.
func (dl *DeviceList) Filter() string { return dl.filter }

// Visible returns the rows in display order.
func (dl *DeviceList) Visible() []domain.Device {
	return slices.Clone(dl.devices)
}

// Selected returns the device under the cursor.
func (dl *DeviceList) Selected() (domain.Device, bool) {
	row, _ := dl.GetSelection()
	return dl.ByIndex(row)
}

// ByIndex returns the nth visible device (1-based).
func (dl *DeviceList) ByIndex(n int) (domain.Device, bool) {
	if n < 1 || n > len(dl.devices) {
		return domain.Device{}, false
	}
	return dl.devices[n-1], true
}
