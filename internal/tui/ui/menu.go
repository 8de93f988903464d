package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Menu displays keyboard shortcut hints in columns.
type Menu struct {
	*tview.TextView
	theme   *Theme
	perCol  int
	colSize int
}

// NewMenu creates a new menu hint bar with perCol hints per column.
func NewMenu(theme *Theme, perCol int) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)
	if perCol <= 0 {
		perCol = 6
	}
	return &Menu{
		TextView: tv,
		theme:    theme,
		perCol:   perCol,
		colSize:  22,
	}
}

// Update renders hints column by column.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()

	keyColor := ColorTag(m.theme.MenuKeyColor)
	numColor := ColorTag(m.theme.NumericKeyColor)

	cols := (len(hints) + m.perCol - 1) / m.perCol
	for row := 0; row < m.perCol && row < len(hints); row++ {
		for col := 0; col < cols; col++ {
			i := col*m.perCol + row
			if i >= len(hints) {
				break
			}
			h := hints[i]
			kc := keyColor
			if h.Numeric {
				kc = numColor
			}
			cell := fmt.Sprintf("<%s> %s", h.Key, h.Description)
			pad := m.colSize - len(cell)
			if pad < 1 {
				pad = 1
			}
			_, _ = fmt.Fprintf(m, "[%s::b]<%s>[-:-:-] %s%*s", kc, tview.Escape(h.Key), h.Description, pad, "")
		}
		_, _ = fmt.Fprintln(m)
	}
}
