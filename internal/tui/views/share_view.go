package views

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/rivo/tview"

	"github.com/matheus3301/meshphone/internal/tui/ui"
)

// ShareView shows a device's phone number as a scannable QR code.
type ShareView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewShareView creates a new share view.
func NewShareView(theme *ui.Theme) *ShareView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Share Number ")
	tv.SetTitleColor(theme.TitleColor)

	return &ShareView{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements ui.Component.
func (sv *ShareView) Name() string { return "Share" }

// Refresh implements ui.Component. The code only changes on Show.
func (sv *ShareView) Refresh() {}

// Show renders number for the device labelled label.
func (sv *ShareView) Show(label, number string) {
	sv.Clear()
	_, _ = fmt.Fprintf(sv, "\n%s\n[::b]%s[-:-:-]\n\n%s\n[::d]Scan to add this device as a contact.",
		clean(label), number, QRText(TelURI(number)))
}

// TelURI returns the tel: URI of a displayed phone number.
func TelURI(number string) string {
	var b strings.Builder
	b.WriteString("tel:+")
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// QRText converts content to a compact QR code drawn with Unicode
// half-block characters, two modules per text row.
func QRText(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "(QR generation failed: " + err.Error() + ")"
	}

	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		for x := 0; x < cols; x++ {
			top := bitmap[y][x]
			bot := y+1 < rows && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
