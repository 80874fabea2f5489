package msgs

import (
	"github.com/golang/protobuf/proto"

	"github.com/spaceworks/sw2/pkg/liveness"
)

// EventRecord is the serializable form of liveness.Event.
type EventRecord struct {
	StationId string `protobuf:"bytes,1,opt,name=station_id,json=stationId,proto3" json:"station_id,omitempty"`
	Kind      string `protobuf:"bytes,2,opt,name=kind,proto3" json:"kind"`
	State     string `protobuf:"bytes,3,opt,name=state,proto3" json:"state"`
	UnixNano  int64  `protobuf:"varint,4,opt,name=unix_nano,json=unixNano,proto3" json:"unix_nano"`
	Line      string `protobuf:"bytes,5,opt,name=line,proto3" json:"line,omitempty"`
	Payload   []byte `protobuf:"bytes,6,opt,name=payload,proto3" json:"payload,omitempty"`
	Error     string `protobuf:"bytes,7,opt,name=error,proto3" json:"error,omitempty"`
}

// Reset implements proto.Message.
func (m *EventRecord) Reset() { *m = EventRecord{} }

// String implements proto.Message.
func (m *EventRecord) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*EventRecord) ProtoMessage() {}

// NewEventRecord converts an event.
func NewEventRecord(stationID string, ev liveness.Event) *EventRecord {
	rec := &EventRecord{
		StationId: stationID,
		Kind:      ev.Kind.String(),
		State:     ev.State.String(),
		UnixNano:  ev.Time.UnixNano(),
		Line:      ev.Line,
		Payload:   ev.Payload,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	return rec
}

// Encode encodes the record with protobuf.
func (m *EventRecord) Encode() ([]byte, error) {
	return proto.Marshal(m)
}

// DecodeEventRecord decodes a protobuf encoded record.
func DecodeEventRecord(data []byte) (*EventRecord, error) {
	rec := &EventRecord{}
	if err := proto.Unmarshal(data, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
