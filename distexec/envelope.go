package distexec

import (
	"encoding/binary"
	"errors"

	"github.com/sarchlab/parallax/event"
)

// ErrNoCodec is returned by Send/deliver paths when the executor was not
// given an EventCodec but needs to move an event across the bus.
var ErrNoCodec = errors.New("distexec: no EventCodec configured")

// EventCodec serializes and deserializes events for transport across the
// message bus. Event bodies are domain-specific (packet headers, RPC
// payloads, ...) and out of this kernel's scope per spec.md section 1;
// callers supply the codec their event types need.
type EventCodec interface {
	Encode(evt event.Event) ([]byte, error)
	Decode(data []byte) (event.Event, error)
}

// envelope is the wire record a cross-host send carries: the destination
// node context, the absolute timestamp it is scheduled for, and the
// caller-serialised event body.
type envelope struct {
	Context    uint32
	AbsoluteTS uint64
	Body       []byte
}

const envelopeHeaderSize = 4 + 8 + 4 // context + ts + body length

func marshalEnvelope(e envelope) []byte {
	buf := make([]byte, envelopeHeaderSize+len(e.Body))
	binary.BigEndian.PutUint32(buf[0:4], e.Context)
	binary.BigEndian.PutUint64(buf[4:12], e.AbsoluteTS)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(e.Body)))
	copy(buf[16:], e.Body)
	return buf
}

func unmarshalEnvelope(buf []byte) (envelope, error) {
	if len(buf) < envelopeHeaderSize {
		return envelope{}, errors.New("distexec: truncated envelope header")
	}
	var e envelope
	e.Context = binary.BigEndian.Uint32(buf[0:4])
	e.AbsoluteTS = binary.BigEndian.Uint64(buf[4:12])
	n := binary.BigEndian.Uint32(buf[12:16])
	if uint32(len(buf)-envelopeHeaderSize) < n {
		return envelope{}, errors.New("distexec: truncated envelope body")
	}
	e.Body = buf[16 : 16+n]
	return e, nil
}
