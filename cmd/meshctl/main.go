package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"gopkg.in/yaml.v3"

	"github.com/matheus3301/meshphone/internal/api"
	"github.com/matheus3301/meshphone/internal/session"
	"github.com/matheus3301/meshphone/internal/tui/views"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 10*time.Second, "per-call timeout")
	flag.Usage = printUsage
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := api.Dial(session.SocketPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if args[0] != "watch" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeoutFlag)
		defer cancel()
	}

	r := &runner{c: c, out: os.Stdout, json: *jsonFlag}
	if err := r.run(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: meshctl [--session <name>] [--json] <command> [args]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show daemon status")
	fmt.Fprintln(os.Stderr, "  devices                         List known devices")
	fmt.Fprintln(os.Stderr, "  register [label]                Register a device for this user")
	fmt.Fprintln(os.Stderr, "  rmdev <device>                  Remove a device")
	fmt.Fprintln(os.Stderr, "  open <device>                   Request another user's device history")
	fmt.Fprintln(os.Stderr, "  lookup <number>                 Resolve a phone number")
	fmt.Fprintln(os.Stderr, "  qr <device>                     Print a device's number as a QR code")
	fmt.Fprintln(os.Stderr, "  send <from> <to> <text...>      Send a message")
	fmt.Fprintln(os.Stderr, "  conv <viewer> <other> [--read]  Show a conversation")
	fmt.Fprintln(os.Stderr, "  read <viewer> <other>           Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  clear <viewer> <other>          Clear a conversation on viewer")
	fmt.Fprintln(os.Stderr, "  contacts <device>               List contacts")
	fmt.Fprintln(os.Stderr, "  add <device> <number|device>    Add a contact")
	fmt.Fprintln(os.Stderr, "  rmcontact <device> <contact>    Remove a contact")
	fmt.Fprintln(os.Stderr, "  mute <device> <contact> [on|off] Set or toggle mute")
	fmt.Fprintln(os.Stderr, "  world                           Dump the world (YAML)")
	fmt.Fprintln(os.Stderr, "  snapshot                        Request a world snapshot")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                  Stream daemon events")
}

type runner struct {
	c    *api.Client
	out  io.Writer
	json bool
}

func need(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: meshctl %s", usage)
	}
	return nil
}

func (r *runner) run(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "status":
		st, err := r.c.Status(ctx)
		if err != nil {
			return err
		}
		if r.json {
			return r.outputJSON(st)
		}
		role := "participant"
		if st.Coordinator {
			role = "coordinator"
		}
		fmt.Fprintf(r.out, "Session:  %s\n", st.Session)
		fmt.Fprintf(r.out, "User:     %s (%s)\n", st.UserID, role)
		fmt.Fprintf(r.out, "Link:     %s since %s\n", st.Link, st.LinkSince.Format(time.RFC3339))
		fmt.Fprintf(r.out, "Peers:    %s\n", strings.Join(st.Peers, ", "))
		fmt.Fprintf(r.out, "Devices:  %d (%d local)\n", st.Devices, len(st.LocalDevices))
		fmt.Fprintf(r.out, "Messages: %d\n", st.MessageCount)
		fmt.Fprintf(r.out, "Outbox:   %d pending\n", st.PendingOutbox)
		fmt.Fprintf(r.out, "Uptime:   %s\n", time.Duration(st.UptimeMs)*time.Millisecond)
		return nil

	case "devices":
		devices, err := r.c.Devices(ctx)
		if err != nil {
			return err
		}
		if r.json {
			return r.outputJSON(devices)
		}
		if len(devices) == 0 {
			fmt.Fprintln(r.out, "No devices.")
			return nil
		}
		for _, d := range devices {
			access := "remote"
			if d.Local {
				access = "local"
			}
			fmt.Fprintf(r.out, "%-26s %-16s %-12s %-20s %s\n", d.ID, d.PhoneNumber, d.OwnerID, d.Label, access)
		}
		return nil

	case "register":
		d, err := r.c.RegisterDevice(ctx, api.DeviceRequest{Source: uuid.NewString(), Label: strings.Join(rest, " ")})
		if err != nil {
			return err
		}
		return r.printDevice(d)

	case "rmdev":
		if err := need(rest, 1, "rmdev <device>"); err != nil {
			return err
		}
		return r.c.RemoveDevice(ctx, rest[0])

	case "open":
		if err := need(rest, 1, "open <device>"); err != nil {
			return err
		}
		resp, err := r.c.OpenDevice(ctx, rest[0])
		if err != nil {
			return err
		}
		if r.json {
			return r.outputJSON(resp)
		}
		if resp.SyncRequestID == "" {
			fmt.Fprintln(r.out, "Device is already local.")
		} else {
			fmt.Fprintf(r.out, "Sync requested: %s\n", resp.SyncRequestID)
		}
		return nil

	case "lookup":
		if err := need(rest, 1, "lookup <number>"); err != nil {
			return err
		}
		d, err := r.c.LookupPhoneNumber(ctx, strings.Join(rest, " "))
		if err != nil {
			return err
		}
		return r.printDevice(d)

	case "qr":
		if err := need(rest, 1, "qr <device>"); err != nil {
			return err
		}
		return r.printQR(ctx, rest[0])

	case "send":
		if err := need(rest, 3, "send <from> <to> <text...>"); err != nil {
			return err
		}
		resp, err := r.c.SendMessage(ctx, api.SendRequest{From: rest[0], To: rest[1], Text: strings.Join(rest[2:], " ")})
		if err != nil {
			return err
		}
		if r.json {
			return r.outputJSON(resp)
		}
		fmt.Fprintf(r.out, "Sent %s\n", resp.Message.ID)
		return nil

	case "conv":
		if err := need(rest, 2, "conv <viewer> <other> [--read]"); err != nil {
			return err
		}
		markRead := len(rest) > 2 && rest[2] == "--read"
		resp, err := r.c.Conversation(ctx, api.ConversationRequest{Viewer: rest[0], Other: rest[1], MarkRead: markRead})
		if err != nil {
			return err
		}
		if r.json {
			return r.outputJSON(resp)
		}
		for _, m := range resp.Messages {
			mark := " "
			if m.ReceiverID == rest[0] && !m.Read {
				mark = "*"
			}
			ts := time.UnixMilli(m.Timestamp).Format("2006-01-02 15:04")
			fmt.Fprintf(r.out, "%s %s %-26s %s\n", mark, ts, m.SenderID, m.Text)
		}
		fmt.Fprintf(r.out, "%d messages, %d unread\n", len(resp.Messages), resp.Unread)
		return nil

	case "read", "clear":
		if err := need(rest, 2, cmd+" <viewer> <other>"); err != nil {
			return err
		}
		call := r.c.MarkRead
		if cmd == "clear" {
			call = r.c.ClearHistory
		}
		n, err := call(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		return r.printCount(n)

	case "contacts":
		if err := need(rest, 1, "contacts <device>"); err != nil {
			return err
		}
		resp, err := r.c.Contacts(ctx, rest[0])
		if err != nil {
			return err
		}
		if r.json {
			return r.outputJSON(resp)
		}
		for _, e := range resp.Contacts {
			flags := ""
			if e.Muted {
				flags += " muted"
			}
			if e.Unread > 0 {
				flags += fmt.Sprintf(" unread=%d", e.Unread)
			}
			fmt.Fprintf(r.out, "%-26s %-16s %s%s\n", e.DeviceID, e.PhoneNumber, e.Label, flags)
		}
		return nil

	case "add":
		if err := need(rest, 2, "add <device> <number|device>"); err != nil {
			return err
		}
		target := strings.Join(rest[1:], " ")
		req := api.ContactRequest{DeviceID: rest[0], Number: target}
		if _, err := r.c.LookupPhoneNumber(ctx, target); err != nil {
			req = api.ContactRequest{DeviceID: rest[0], ContactID: target}
		}
		id, err := r.c.AddContact(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Added %s\n", id)
		return nil

	case "rmcontact":
		if err := need(rest, 2, "rmcontact <device> <contact>"); err != nil {
			return err
		}
		return r.c.RemoveContact(ctx, rest[0], rest[1])

	case "mute":
		if err := need(rest, 2, "mute <device> <contact> [on|off]"); err != nil {
			return err
		}
		req := api.MuteRequest{DeviceID: rest[0], ContactID: rest[1], Toggle: true}
		if len(rest) > 2 {
			switch rest[2] {
			case "on":
				req.Toggle, req.Muted = false, true
			case "off":
				req.Toggle, req.Muted = false, false
			default:
				return fmt.Errorf("mute state must be on or off, got %q", rest[2])
			}
		}
		muted, err := r.c.SetMute(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "muted: %v\n", muted)
		return nil

	case "world":
		w, err := r.c.World(ctx)
		if err != nil {
			return err
		}
		if r.json {
			return r.outputJSON(w)
		}
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(w); err != nil {
			return err
		}
		return enc.Close()

	case "snapshot":
		return r.c.RequestWorldSnapshot(ctx)

	case "watch":
		prefix := ""
		if len(rest) > 0 {
			prefix = rest[0]
		}
		events, err := r.c.WatchEvents(ctx, prefix)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(r.out)
		for evt := range events {
			if err := enc.Encode(evt); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (r *runner) printDevice(d api.DeviceInfo) error {
	if r.json {
		return r.outputJSON(d)
	}
	fmt.Fprintf(r.out, "ID:     %s\n", d.ID)
	fmt.Fprintf(r.out, "Phone:  %s\n", d.PhoneNumber)
	fmt.Fprintf(r.out, "Owner:  %s\n", d.OwnerID)
	fmt.Fprintf(r.out, "Label:  %s\n", d.Label)
	fmt.Fprintf(r.out, "Local:  %v\n", d.Local)
	return nil
}

func (r *runner) printCount(n int) error {
	if r.json {
		return r.outputJSON(api.CountResponse{Count: n})
	}
	fmt.Fprintf(r.out, "%d\n", n)
	return nil
}

func (r *runner) printQR(ctx context.Context, deviceID string) error {
	devices, err := r.c.Devices(ctx)
	if err != nil {
		return err
	}
	for _, d := range devices {
		if d.ID != deviceID {
			continue
		}
		qr, err := qrcode.New(views.TelURI(d.PhoneNumber), qrcode.Medium)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, qr.ToSmallString(false))
		fmt.Fprintf(r.out, "%s  %s\n", d.PhoneNumber, d.Label)
		return nil
	}
	return fmt.Errorf("device %s not found", deviceID)
}

func (r *runner) outputJSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
