package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/tui/ui"
)

// ThreadSource is what the message thread reads.
type ThreadSource interface {
	Conversation(viewerID, otherID string) []domain.Message
}

// MessageThread displays one conversation from the viewer's side and a
// composer for replies.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	src      ThreadSource
	messages *tview.TextView
	composer *tview.InputField
	viewer   string
	other    string
	title    string
	count    int
	onSend   func(text string)
	now      func() time.Time
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme, src ThreadSource) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		src:      src,
		messages: messages,
		composer: composer,
		now:      time.Now,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			mt.Submit(composer.GetText())
		}
	})

	return mt
}

// Name implements ui.Component.
func (mt *MessageThread) Name() string {
	if mt.title != "" {
		return mt.title
	}
	return "Messages"
}

// SetConversation switches the thread to viewer's conversation with other.
func (mt *MessageThread) SetConversation(viewer, other, title string) {
	if viewer != mt.viewer || other != mt.other {
		mt.composer.SetText("")
	}
	mt.viewer = viewer
	mt.other = other
	mt.title = title
	if mt.title == "" {
		mt.title = other
	}
}

// Conversation returns the device pair on display.
func (mt *MessageThread) Conversation() (viewer, other string) {
	return mt.viewer, mt.other
}

// Count returns how many messages the last refresh rendered.
func (mt *MessageThread) Count() int { return mt.count }

// SetOnSend sets the callback for composed messages.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Submit sends text through the composer callback and clears the field.
func (mt *MessageThread) Submit(text string) {
	if text == "" || mt.onSend == nil {
		return
	}
	mt.onSend(text)
	mt.composer.SetText("")
}

// Refresh implements ui.Component.
func (mt *MessageThread) Refresh() {
	mt.messages.Clear()
	mt.messages.SetTitle(fmt.Sprintf(" %s ", clean(mt.Name())))
	if mt.viewer == "" {
		mt.count = 0
		return
	}

	msgs := mt.src.Conversation(mt.viewer, mt.other)
	mt.count = len(msgs)
	if len(msgs) == 0 {
		_, _ = fmt.Fprintf(mt.messages, "[%s]No messages yet.[-]", ui.ColorTag(mt.theme.DimColor))
		return
	}

	own := ui.ColorTag(mt.theme.OwnMessageColor)
	peer := ui.ColorTag(mt.theme.PeerMessageColor)
	now := mt.now()
	for _, m := range msgs {
		sender, color := clean(mt.Name()), peer
		if m.SenderID == mt.viewer {
			sender, color = "You", own
		}
		_, _ = fmt.Fprintf(mt.messages, "[%s::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
			color, sender, formatTimestamp(m.Timestamp, now), clean(m.Text))
	}
	mt.messages.ScrollToEnd()
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
