// Package tui is the terminal front-end. It runs in the daemon's process and
// redraws through the reactive controller: every page is a registered
// component subscribed to the topics the service marks dirty.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/google/uuid"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/reactive"
	"github.com/matheus3301/meshphone/internal/service"
	"github.com/matheus3301/meshphone/internal/status"
	"github.com/matheus3301/meshphone/internal/store"
	"github.com/matheus3301/meshphone/internal/tui/keys"
	"github.com/matheus3301/meshphone/internal/tui/ui"
	"github.com/matheus3301/meshphone/internal/tui/views"
)

const (
	pageDevices  = "devices"
	pageContacts = "contacts"
	pageThread   = "thread"
	pageShare    = "share"
	pageHelp     = "help"
)

// Component IDs registered with the controller.
const (
	idHeader   = "header"
	idFlash    = "flash"
	idDevices  = "devices"
	idContacts = "contacts"
	idThread   = "thread"
)

// Peers reports reachable users.
type Peers interface {
	Peers() []string
}

// Outbox reports envelopes waiting for the bus.
type Outbox interface {
	PendingOutbox() ([]store.OutboxEntry, error)
}

// Deps are the in-process components the UI drives.
type Deps struct {
	SessionName string
	Service     *service.Service
	Controller  *reactive.Controller
	Machine     *status.Machine
	Peers       Peers
	Outbox      Outbox
	Flash       *ui.FlashModel
	Logger      *zap.Logger
}

// App is the main TUI application shell.
type App struct {
	app    *tview.Application
	d      Deps
	svc    *service.Service
	ctrl   *reactive.Controller
	self   string
	theme  *ui.Theme
	keys   *keys.Registry
	pages  *ui.Pages
	root   *tview.Flex
	info   *ui.SessionInfo
	menu   *ui.Menu
	crumbs *ui.Crumbs
	flash  *ui.FlashBar
	prompt *ui.Prompt

	devices  *views.DeviceList
	contacts *views.ContactList
	thread   *views.MessageThread
	share    *views.ShareView
	help     *views.HelpView

	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewApp builds the UI on app and registers its components with the
// controller. Nothing is drawn until Run.
func NewApp(app *tview.Application, d Deps) *App {
	if d.Flash == nil {
		d.Flash = ui.NewFlashModel()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:      app,
		d:        d,
		svc:      d.Service,
		ctrl:     d.Controller,
		self:     d.Service.Self().UserID,
		theme:    theme,
		keys:     keys.NewRegistry(),
		pages:    ui.NewPages(),
		info:     ui.NewSessionInfo(theme),
		menu:     ui.NewMenu(theme, 6),
		flash:    ui.NewFlashBar(theme),
		prompt:   ui.NewPrompt(theme),
		devices:  views.NewDeviceList(theme, d.Service, d.Service.Self().UserID),
		contacts: views.NewContactList(theme, d.Service),
		thread:   views.NewMessageThread(theme, d.Service),
		share:    views.NewShareView(theme),
		help:     views.NewHelpView(theme, helpSections),
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.crumbs = ui.NewCrumbs(theme, a.pageLabel)

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	a.registerComponents()
	return a
}

var helpSections = []views.HelpSection{
	{Title: "Global", Entries: []views.HelpEntry{
		{Keys: ":", Description: "Command mode"},
		{Keys: "/", Description: "Filter the current list"},
		{Keys: "Esc", Description: "Back / leave composer"},
		{Keys: "?", Description: "This help"},
		{Keys: "q", Description: "Quit"},
	}},
	{Title: "Devices", Entries: []views.HelpEntry{
		{Keys: "Enter", Description: "Open device (requests a sync when remote)"},
		{Keys: "1-9", Description: "Open the Nth device"},
		{Keys: "s", Description: "Share the device's number"},
	}},
	{Title: "Contacts", Entries: []views.HelpEntry{
		{Keys: "Enter", Description: "Open conversation"},
		{Keys: "a", Description: "Add contact by number"},
		{Keys: "m", Description: "Mute / unmute"},
		{Keys: "c", Description: "Clear history on this device"},
		{Keys: "x", Description: "Remove contact (history is kept)"},
	}},
	{Title: "Conversation", Entries: []views.HelpEntry{
		{Keys: "i", Description: "Focus composer"},
		{Keys: "Enter", Description: "Send (in composer)"},
		{Keys: "m", Description: "Mute / unmute"},
		{Keys: "c", Description: "Clear history on this device"},
	}},
	{Title: "Commands", Entries: []views.HelpEntry{
		{Keys: ":new <label>", Description: "Register a device"},
		{Keys: ":add <number>", Description: "Add a contact to the open device"},
		{Keys: ":open <id|number>", Description: "Open any device"},
		{Keys: ":close", Description: "Drop local access to the selected device"},
		{Keys: ":rmdev", Description: "Remove the selected device"},
		{Keys: ":world", Description: "Request a world snapshot"},
		{Keys: ":help / :quit", Description: ""},
	}},
}

func (a *App) setupBindings() {
	a.keys.AddGlobal("command", &keys.Action{
		Key: tcell.KeyRune, Rune: ':', Hint: ":", Help: "Command",
		Handler: func() { a.showPrompt(ui.PromptCommand, "") },
	})
	a.keys.AddGlobal("help", &keys.Action{
		Key: tcell.KeyRune, Rune: '?', Hint: "?", Help: "Help",
		Handler: func() { a.push(pageHelp) },
	})
	a.keys.AddGlobal("quit", &keys.Action{
		Key: tcell.KeyRune, Rune: 'q', Hint: "q", Help: "Quit",
		Handler: a.Stop,
	})

	filter := &keys.Action{
		Key: tcell.KeyRune, Rune: '/', Hint: "/", Help: "Filter",
		Handler: func() { a.showPrompt(ui.PromptFilter, "") },
	}
	share := &keys.Action{
		Key: tcell.KeyRune, Rune: 's', Hint: "s", Help: "Share",
		Handler: a.shareSelected,
	}
	mute := &keys.Action{
		Key: tcell.KeyRune, Rune: 'm', Hint: "m", Help: "Mute",
		Handler: a.toggleMute,
	}
	clearHistory := &keys.Action{
		Key: tcell.KeyRune, Rune: 'c', Hint: "c", Help: "Clear",
		Handler: a.clearHistory,
	}

	a.keys.AddPage(pageDevices, "open", &keys.Action{
		Key: tcell.KeyEnter, Hint: "Enter", Help: "Open",
		Handler: func() {
			if d, ok := a.devices.Selected(); ok {
				a.openDevice(d)
			}
		},
	})
	a.keys.AddPage(pageDevices, "filter", filter)
	a.keys.AddPage(pageDevices, "share", share)

	a.keys.AddPage(pageContacts, "open", &keys.Action{
		Key: tcell.KeyEnter, Hint: "Enter", Help: "Chat",
		Handler: func() {
			if e, ok := a.contacts.Selected(); ok {
				a.openThread(a.contacts.Device(), e)
			}
		},
	})
	a.keys.AddPage(pageContacts, "add", &keys.Action{
		Key: tcell.KeyRune, Rune: 'a', Hint: "a", Help: "Add",
		Handler: func() { a.showPrompt(ui.PromptCommand, "add ") },
	})
	a.keys.AddPage(pageContacts, "filter", filter)
	a.keys.AddPage(pageContacts, "mute", mute)
	a.keys.AddPage(pageContacts, "clear", clearHistory)
	a.keys.AddPage(pageContacts, "remove", &keys.Action{
		Key: tcell.KeyRune, Rune: 'x', Hint: "x", Help: "Remove",
		Handler: a.removeContact,
	})
	a.keys.AddPage(pageContacts, "share", share)

	a.keys.AddPage(pageThread, "compose", &keys.Action{
		Key: tcell.KeyRune, Rune: 'i', Hint: "i", Help: "Compose",
		Handler: func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.keys.AddPage(pageThread, "mute", mute)
	a.keys.AddPage(pageThread, "clear", clearHistory)
}

func (a *App) setupCallbacks() {
	a.devices.SetSelectedFunc(func(row, _ int) {
		if d, ok := a.devices.ByIndex(row); ok {
			a.openDevice(d)
		}
	})
	a.contacts.SetSelectedFunc(func(row, _ int) {
		if e, ok := a.contacts.ByIndex(row); ok {
			a.openThread(a.contacts.Device(), e)
		}
	})
	a.thread.SetOnSend(a.send)

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptFilter:
			a.applyFilter(text)
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		}
	})
	a.prompt.SetOnCancel(func() {
		a.hidePrompt()
		if a.prompt.Mode() == ui.PromptFilter {
			a.applyFilter("")
		}
	})

	a.pages.SetOnChange(func(stack []string) {
		a.crumbs.Update(stack)
		a.menu.Update(a.keys.Hints(a.pages.Current()))
	})
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageDevices, a.devices, true, false)
	a.pages.AddPage(pageContacts, a.contacts, true, false)
	a.pages.AddPage(pageThread, a.thread, true, false)
	a.pages.AddPage(pageShare, a.share, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	header := tview.NewFlex().
		AddItem(a.info, 0, 1, false).
		AddItem(a.menu, 0, 2, false).
		AddItem(ui.NewLogo(a.theme), 14, 0, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flash, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.app.SetInputCapture(a.handleKey)
	a.pages.Reset(pageDevices)
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	focused := a.app.GetFocus()
	if focused == a.prompt.InputField {
		return event
	}
	if focused == a.thread.Composer() {
		if event.Key() == tcell.KeyEscape {
			a.app.SetFocus(a.thread.Messages())
			return nil
		}
		return event
	}

	current := a.pages.Current()
	if event.Key() == tcell.KeyEscape {
		if a.pages.Pop() != "" {
			a.focusCurrent()
		}
		return nil
	}
	if event.Key() == tcell.KeyRune && event.Rune() >= '1' && event.Rune() <= '9' {
		n := int(event.Rune() - '0')
		switch current {
		case pageDevices:
			if d, ok := a.devices.ByIndex(n); ok {
				a.openDevice(d)
			}
			return nil
		case pageContacts:
			if e, ok := a.contacts.ByIndex(n); ok {
				a.openThread(a.contacts.Device(), e)
			}
			return nil
		}
	}
	if a.keys.HandleEvent(current, event) {
		return nil
	}
	return event
}

func (a *App) registerComponents() {
	a.ctrl.Register(idHeader, a.info, a.refreshHeader)
	a.ctrl.Subscribe(idHeader, reactive.StatusTopic, reactive.DevicesTopic)
	a.ctrl.Register(idFlash, a.flash, func() { a.flash.Update(a.d.Flash.Current()) })
	a.ctrl.Register(idDevices, a.devices, a.refreshDevices)
	a.ctrl.Subscribe(idDevices, reactive.DevicesTopic)
}

// resubscribe replaces id's registration so stale topics stop reaching it.
func (a *App) resubscribe(id string, handle ui.Component, callback func(), topics ...string) {
	a.ctrl.Unregister(id)
	a.ctrl.Register(id, handle, callback)
	a.ctrl.Subscribe(id, topics...)
	a.ctrl.MarkDirty(id)
}

func (a *App) refreshHeader() {
	unread := 0
	for _, id := range a.svc.LocalDevices() {
		unread += a.svc.TotalUnread(id)
		// Badges of every local device feed the header total.
		a.ctrl.Subscribe(idHeader, reactive.ContactsTopic(id))
	}
	pending := 0
	if a.d.Outbox != nil {
		if entries, err := a.d.Outbox.PendingOutbox(); err == nil {
			pending = len(entries)
		}
	}
	peers := 0
	if a.d.Peers != nil {
		peers = len(a.d.Peers.Peers())
	}
	link := status.Booting
	if a.d.Machine != nil {
		link = a.d.Machine.Current()
	}
	a.info.Update(ui.SessionData{
		Session:       a.d.SessionName,
		UserID:        a.self,
		Coordinator:   a.svc.IsCoordinator(),
		Link:          string(link),
		Online:        link == status.Online,
		Peers:         peers,
		Devices:       len(a.devices.Visible()),
		Unread:        unread,
		PendingOutbox: pending,
		Uptime:        time.Since(a.started),
	})
}

func (a *App) refreshDevices() {
	a.devices.Refresh()
	for _, d := range a.devices.Visible() {
		if a.svc.HasLocalAccess(d.ID) {
			a.ctrl.Subscribe(idDevices, reactive.ContactsTopic(d.ID))
		}
	}
}

func (a *App) refreshThread() {
	a.thread.Refresh()
	if a.pages.Current() != pageThread {
		return
	}
	viewer, other := a.thread.Conversation()
	if a.svc.UnreadCount(viewer, other) > 0 {
		a.background("mark read", func(ctx context.Context) error {
			_, err := a.svc.MarkConversationRead(ctx, viewer, other)
			return err
		})
	}
}

func (a *App) pageLabel(page string) string {
	switch page {
	case pageContacts:
		return a.contacts.Name()
	case pageThread:
		return a.thread.Name()
	case pageShare:
		return a.share.Name()
	case pageHelp:
		return a.help.Name()
	default:
		return a.devices.Name()
	}
}

func (a *App) push(page string) {
	a.pages.Push(page)
	a.focusCurrent()
}

func (a *App) focusCurrent() {
	switch a.pages.Current() {
	case pageContacts:
		a.app.SetFocus(a.contacts)
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageShare:
		a.app.SetFocus(a.share)
	case pageHelp:
		a.app.SetFocus(a.help)
	default:
		a.app.SetFocus(a.devices)
	}
}

func (a *App) showPrompt(mode ui.PromptMode, text string) {
	a.prompt.Activate(mode)
	a.prompt.SetText(text)
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	a.focusCurrent()
}

func (a *App) applyFilter(text string) {
	switch a.pages.Current() {
	case pageDevices:
		a.devices.SetFilter(text)
	case pageContacts:
		a.contacts.SetFilter(text)
	}
}

// background runs op off the UI goroutine and flashes its error. Network
// sends in the service may block briefly.
func (a *App) background(what string, op func(ctx context.Context) error) {
	go func() {
		if err := op(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.d.Logger.Warn("ui action failed", zap.String("action", what), zap.Error(err))
			a.d.Flash.Err(fmt.Errorf("%s: %w", what, err))
		}
	}()
}

func deviceLabel(d domain.Device) string {
	if d.Label != "" {
		return d.Label
	}
	return d.ID
}

func (a *App) openDevice(d domain.Device) {
	if !a.svc.HasLocalAccess(d.ID) {
		a.d.Flash.Info("syncing " + deviceLabel(d) + "...")
		a.background("open device", func(ctx context.Context) error {
			_, err := a.svc.OpenDevice(ctx, d.ID)
			return err
		})
	}
	a.contacts.SetDevice(d.ID, deviceLabel(d))
	a.resubscribe(idContacts, a.contacts, a.contacts.Refresh,
		reactive.ContactsTopic(d.ID), reactive.DevicesTopic)
	a.push(pageContacts)
}

func (a *App) openThread(viewer string, e service.ContactEntry) {
	title := e.Label
	if title == "" {
		title = e.DeviceID
	}
	a.thread.SetConversation(viewer, e.DeviceID, title)
	a.resubscribe(idThread, a.thread, a.refreshThread, reactive.ConversationTopic(viewer, e.DeviceID))
	a.push(pageThread)
}

func (a *App) send(text string) {
	viewer, other := a.thread.Conversation()
	if viewer == "" {
		return
	}
	a.background("send", func(ctx context.Context) error {
		_, err := a.svc.SendMessage(ctx, viewer, other, text)
		return err
	})
}

// target returns the conversation the current page points at.
func (a *App) target() (viewer, other string, ok bool) {
	switch a.pages.Current() {
	case pageThread:
		viewer, other = a.thread.Conversation()
		return viewer, other, viewer != ""
	case pageContacts:
		e, ok := a.contacts.Selected()
		return a.contacts.Device(), e.DeviceID, ok
	}
	return "", "", false
}

func (a *App) toggleMute() {
	viewer, other, ok := a.target()
	if !ok {
		return
	}
	muted, err := a.svc.ToggleMute(viewer, other)
	if err != nil {
		a.d.Flash.Err(err)
		return
	}
	if muted {
		a.d.Flash.Info("muted " + other)
	} else {
		a.d.Flash.Info("unmuted " + other)
	}
}

func (a *App) clearHistory() {
	viewer, other, ok := a.target()
	if !ok {
		return
	}
	a.background("clear history", func(ctx context.Context) error {
		n, err := a.svc.ClearHistory(ctx, viewer, other)
		if err == nil {
			a.d.Flash.Info(fmt.Sprintf("cleared %d messages", n))
		}
		return err
	})
}

func (a *App) removeContact() {
	e, ok := a.contacts.Selected()
	if !ok {
		return
	}
	device := a.contacts.Device()
	a.background("remove contact", func(ctx context.Context) error {
		return a.svc.RemoveContact(ctx, device, e.DeviceID)
	})
}

func (a *App) shareSelected() {
	var id, label string
	switch a.pages.Current() {
	case pageDevices:
		d, ok := a.devices.Selected()
		if !ok {
			return
		}
		id, label = d.ID, deviceLabel(d)
	case pageContacts:
		e, ok := a.contacts.Selected()
		if !ok {
			return
		}
		id, label = e.DeviceID, e.Label
	default:
		return
	}
	a.share.Show(label, domain.PhoneNumber(id))
	a.push(pageShare)
}

// activeDevice is the device commands act on: the open contact list, or
// the selected row of the device list.
func (a *App) activeDevice() (string, bool) {
	if a.pages.Current() != pageDevices && a.contacts.Device() != "" {
		return a.contacts.Device(), true
	}
	d, ok := a.devices.Selected()
	return d.ID, ok
}

func (a *App) runCommand(cmd Command) {
	switch cmd.canonical() {
	case "quit":
		a.Stop()
	case "help":
		a.push(pageHelp)
	case "new":
		label := cmd.Args
		a.background("register device", func(ctx context.Context) error {
			d, err := a.svc.RegisterDevice(ctx, a.self, uuid.NewString(), label)
			if err == nil {
				a.d.Flash.Info(fmt.Sprintf("registered %s (%s)", deviceLabel(d), domain.PhoneNumber(d.ID)))
			}
			return err
		})
	case "add":
		device, ok := a.activeDevice()
		if !ok || cmd.Args == "" {
			a.d.Flash.Warn("usage: add <number> with a device open")
			return
		}
		number := cmd.Args
		a.background("add contact", func(ctx context.Context) error {
			id, err := a.svc.AddContactByNumber(ctx, device, number)
			if err == nil {
				a.d.Flash.Info("added " + id)
			}
			return err
		})
	case "open":
		id := cmd.Args
		if resolved, err := a.svc.LookupPhoneNumber(id); err == nil {
			id = resolved
		}
		d, err := a.svc.Device(id)
		if err != nil {
			a.d.Flash.Err(err)
			return
		}
		a.openDevice(d)
	case "close":
		if device, ok := a.activeDevice(); ok {
			a.svc.CloseDevice(device)
			a.ctrl.MarkTopicsDirty(reactive.DevicesTopic)
			a.pages.Reset(pageDevices)
			a.focusCurrent()
		}
	case "rmdev":
		device, ok := a.activeDevice()
		if !ok {
			return
		}
		a.pages.Reset(pageDevices)
		a.focusCurrent()
		a.background("remove device", func(ctx context.Context) error {
			return a.svc.RemoveDevice(ctx, device)
		})
	case "world":
		a.svc.RequestWorldSnapshot(a.ctx)
		a.d.Flash.Info("world snapshot requested")
	default:
		a.d.Flash.Warn("unknown command: " + cmd.Name)
	}
}

// Start begins the background work feeding the controller: flash changes
// and a one-second tick for the clock-driven parts of the header.
func (a *App) Start() {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-a.d.Flash.Watch():
				a.ctrl.MarkDirty(idFlash)
			case <-ticker.C:
				a.ctrl.MarkDirtyMultiple(idHeader, idFlash)
			case <-a.ctx.Done():
				return
			}
		}
	}()
	a.ctrl.MarkAllDirty()
}

// Run starts the UI and blocks until it quits.
func (a *App) Run() error {
	a.Start()
	a.focusCurrent()
	return a.app.Run()
}

// Stop shuts down the UI and unregisters its components.
func (a *App) Stop() {
	a.cancel()
	for _, id := range []string{idHeader, idFlash, idDevices, idContacts, idThread} {
		a.ctrl.Unregister(id)
	}
	a.app.Stop()
}
