package daemon

import (
	"go.uber.org/zap"

	"github.com/matheus3301/meshphone/internal/domain"
)

// logAlerter records notifications in the daemon log when no UI is attached.
type logAlerter struct {
	logger *zap.Logger
}

func (a logAlerter) Alert(deviceID string, msg domain.Message) {
	a.logger.Info("notification",
		zap.String("device", deviceID),
		zap.String("from", msg.SenderID),
		zap.String("message_id", msg.ID))
}
