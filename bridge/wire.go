package bridge

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/c360/chronoflow/errors"
	"github.com/c360/chronoflow/message"
)

// errMissingTime marks a frame without an originating time; such frames
// cannot participate in temporal ordering and are dropped.
var errMissingTime = errors.New("frame missing originating time")

// wireMessage is the JSON frame exchanged over the bus. The envelope fields
// travel alongside the payload so the receiving side can reconstruct event
// time; source and sequence identities are informational only, since the
// importing pipeline assigns its own.
type wireMessage struct {
	PipelineID      string          `json:"pipeline_id,omitempty"`
	MessageID       string          `json:"message_id"`
	SourceID        int             `json:"source_id"`
	SequenceID      int64           `json:"sequence_id"`
	OriginatingTime time.Time       `json:"originating_time"`
	CreationTime    time.Time       `json:"creation_time"`
	Payload         json.RawMessage `json:"payload"`
}

func encodeWire(pipelineID string, env message.Envelope, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, cerrors.WrapInvalid(err, "Bridge", "Export", "encode payload")
	}
	frame, err := json.Marshal(wireMessage{
		PipelineID:      pipelineID,
		MessageID:       uuid.NewString(),
		SourceID:        env.SourceID,
		SequenceID:      env.SequenceID,
		OriginatingTime: env.OriginatingTime,
		CreationTime:    env.CreationTime,
		Payload:         body,
	})
	if err != nil {
		return nil, cerrors.WrapInvalid(err, "Bridge", "Export", "encode frame")
	}
	return frame, nil
}

func decodeWire(data []byte) (wireMessage, error) {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return wireMessage{}, cerrors.WrapInvalid(err, "Bridge", "Import", "decode frame")
	}
	if wm.OriginatingTime.IsZero() {
		return wireMessage{}, cerrors.WrapInvalid(errMissingTime, "Bridge", "Import", "decode frame")
	}
	return wm, nil
}
