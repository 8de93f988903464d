package reactive

import (
	"context"

	"github.com/matheus3301/meshphone/internal/bus"
)

// Bridge marks the status topic dirty for link, outbox and world notices
// published on the local bus.
type Bridge struct {
	bus    *bus.Bus
	ctrl   *Controller
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBridge creates a bridge.
func NewBridge(b *bus.Bus, ctrl *Controller) *Bridge {
	return &Bridge{bus: b, ctrl: ctrl}
}

// Start subscribes to the bus.
func (br *Bridge) Start(ctx context.Context) {
	ctx, br.cancel = context.WithCancel(ctx)
	br.done = make(chan struct{})

	link, unsubLink := br.bus.Subscribe("link.", 64)
	outbox, unsubOutbox := br.bus.Subscribe("outbox.", 64)
	world, unsubWorld := br.bus.Subscribe("world.", 64)

	go func() {
		defer close(br.done)
		defer unsubLink()
		defer unsubOutbox()
		defer unsubWorld()
		for {
			select {
			case evt := <-link:
				if evt.Kind == bus.KindPeersChanged {
					br.ctrl.MarkTopicsDirty(StatusTopic, DevicesTopic)
				} else {
					br.ctrl.MarkTopicsDirty(StatusTopic)
				}
			case <-outbox:
				br.ctrl.MarkTopicsDirty(StatusTopic)
			case <-world:
				br.ctrl.MarkTopicsDirty(StatusTopic, DevicesTopic)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the subscription.
func (br *Bridge) Stop() {
	if br.cancel != nil {
		br.cancel()
		<-br.done
	}
}
