package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/meshphone/internal/tui/ui"
)

// HelpEntry is one line of the help page.
type HelpEntry struct {
	Keys        string
	Description string
}

// HelpSection groups help lines under a heading.
type HelpSection struct {
	Title   string
	Entries []HelpEntry
}

// HelpView displays the key and command reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a help page listing sections.
func NewHelpView(theme *ui.Theme, sections []HelpSection) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{
		TextView: tv,
		theme:    theme,
	}
	hv.render(sections)
	return hv
}

// Name implements ui.Component.
func (hv *HelpView) Name() string { return "Help" }

// Refresh implements ui.Component. Help text is static.
func (hv *HelpView) Refresh() {}

func (hv *HelpView) render(sections []HelpSection) {
	kc := ui.ColorTag(hv.theme.MenuKeyColor)
	width := 0
	for _, s := range sections {
		for _, e := range s.Entries {
			width = max(width, len(e.Keys))
		}
	}

	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.Title)
		for _, e := range s.Entries {
			fmt.Fprintf(&b, "  [%s]%s[-:-:-]%s  %s\n",
				kc, tview.Escape(e.Keys), strings.Repeat(" ", width-len(e.Keys)), e.Description)
		}
	}
	_, _ = fmt.Fprint(hv, b.String())
}
