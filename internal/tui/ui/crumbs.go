package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// Crumbs is a breadcrumb bar showing the page stack.
type Crumbs struct {
	*tview.TextView
	theme *Theme
	label func(page string) string
}

// NewCrumbs creates a breadcrumb bar. label turns page names into the
// text shown; nil shows names as they are.
func NewCrumbs(theme *Theme, label func(page string) string) *Crumbs {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	if label == nil {
		label = func(page string) string { return page }
	}
	return &Crumbs{
		TextView: tv,
		theme:    theme,
		label:    label,
	}
}

// Update renders the breadcrumb trail from the page stack.
func (c *Crumbs) Update(stack []string) {
	c.Clear()
	parts := make([]string, 0, len(stack))
	for i, name := range stack {
		fg, bg, attr := c.theme.CrumbInactiveFg, c.theme.CrumbInactiveBg, ""
		if i == len(stack)-1 {
			fg, bg, attr = c.theme.CrumbActiveFg, c.theme.CrumbActiveBg, "b"
		}
		parts = append(parts, fmt.Sprintf("[%s:%s:%s] %s [-:-:-]",
			ColorTag(fg), ColorTag(bg), attr, tview.Escape(c.label(name))))
	}
	_, _ = fmt.Fprint(c, strings.Join(parts, " "))
}
