// Package relay carries replication envelopes between clients over a gRPC
// bidirectional stream. The relay is a dumb router: it never decodes payloads.
package relay

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/meshphone/internal/replication"
)

// Frame kinds.
const (
	KindEnvelope = "envelope"
	KindPresence = "presence"
)

// Frame is the JSON routing unit carried in each stream message.
type Frame struct {
	Kind     string                `json:"kind"`
	Mode     replication.Mode      `json:"mode,omitempty"`
	Target   string                `json:"target,omitempty"`
	From     string                `json:"from,omitempty"`
	Envelope *replication.Envelope `json:"envelope,omitempty"`

	// Presence fields.
	Peers       []string `json:"peers,omitempty"`
	Coordinator string   `json:"coordinator,omitempty"`
}

func encodeFrame(f Frame) (*wrapperspb.BytesValue, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return wrapperspb.Bytes(data), nil
}

func decodeFrame(v *wrapperspb.BytesValue) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(v.GetValue(), &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}
