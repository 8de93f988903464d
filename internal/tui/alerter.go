package tui

import (
	"fmt"
	"sync"

	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/service"
	"github.com/matheus3301/meshphone/internal/tui/ui"
)

// Directory resolves device labels for notifications.
type Directory interface {
	Device(deviceID string) (domain.Device, error)
}

// Alerter shows incoming messages in the flash bar. It is handed to the
// service before the UI exists; labels resolve once a directory is set.
type Alerter struct {
	flash *ui.FlashModel

	mu  sync.RWMutex
	dir Directory
}

var _ service.Alerter = (*Alerter)(nil)

// NewAlerter creates an alerter writing to flash.
func NewAlerter(flash *ui.FlashModel) *Alerter {
	return &Alerter{flash: flash}
}

// SetDirectory sets the label source.
func (a *Alerter) SetDirectory(dir Directory) {
	a.mu.Lock()
	a.dir = dir
	a.mu.Unlock()
}

// Alert implements service.Alerter.
func (a *Alerter) Alert(deviceID string, msg domain.Message) {
	a.flash.Alert(fmt.Sprintf("%s → %s: %s", a.label(msg.SenderID), a.label(deviceID), msg.Text))
}

func (a *Alerter) label(id string) string {
	a.mu.RLock()
	dir := a.dir
	a.mu.RUnlock()
	if dir == nil {
		return id
	}
	if d, err := dir.Device(id); err == nil && d.Label != "" {
		return d.Label
	}
	return id
}
