// Package codec parses and composes the broker's wire messages: three
// logical frames (peer identity, stripped by the transport; a service tag
// and mesh-io-type pair; a flat payload) using a fixed magic-plus-version
// header and length-prefixed fields throughout. Unknown services or
// mesh-io-type tags decode into Message{Invalid: true} rather than
// returning an error, since a malformed frame must never abort the
// broker.
package codec

import (
	"encoding/binary"
	"io"

	"github.com/remusmesh/broker/pkg/meshtype"
)

// magic identifies the start of a frame; version lets the wire format
// evolve without breaking identification of stale peers.
const (
	magic   uint32 = 0x4d455348 // "MESH"
	version uint8  = 1
)

// Service names one of the recognized message kinds. The zero value,
// ServiceInvalid, is never placed on the wire by this broker but is what
// a malformed or unrecognized frame decodes to.
type Service string

const (
	ServiceInvalid      Service = ""
	CanMesh             Service = "CAN_MESH"
	CanMeshRequirements Service = "CAN_MESH_REQUIREMENTS"
	MeshRequirements    Service = "MESH_REQUIREMENTS"
	MakeMesh            Service = "MAKE_MESH"
	MeshStatus          Service = "MESH_STATUS"
	RetrieveMesh        Service = "RETRIEVE_MESH"
	TerminateJob        Service = "TERMINATE_JOB"
	Heartbeat           Service = "HEARTBEAT"
	Shutdown            Service = "SHUTDOWN"
)

var knownServices = map[Service]bool{
	CanMesh:             true,
	CanMeshRequirements: true,
	MeshRequirements:    true,
	MakeMesh:            true,
	MeshStatus:          true,
	RetrieveMesh:        true,
	TerminateJob:        true,
	Heartbeat:           true,
	Shutdown:            true,
}

// InvalidMsg is the sentinel payload for a reply to a malformed or
// unsupported request.
const InvalidMsg = "INVALID_MSG"

// InvalidStatus is the sentinel status reply for an unknown JobId.
const InvalidStatus = "INVALID_STATUS"

// Message is a decoded inbound frame.
type Message struct {
	Service    Service
	MeshIOType meshtype.MeshIOType
	Payload    []byte
	Invalid    bool
}

// Response is an outbound frame, not yet bound to a recipient identity:
// the transport attaches that when sending.
type Response struct {
	Service    Service
	MeshIOType meshtype.MeshIOType
	Payload    []byte
}

// maxFrameLen guards against a corrupt length prefix causing an
// unbounded allocation.
const maxFrameLen = 64 << 20

// Encode serializes a Response to the wire layout:
//
//	magic(4) version(1) serviceLen(1) service
//	inputLen(1) input outputLen(1) output
//	payloadLen(4) payload
func Encode(r Response) []byte {
	svc := []byte(r.Service)
	in := []byte(r.MeshIOType.Input)
	out := []byte(r.MeshIOType.Output)

	size := 4 + 1 + 1 + len(svc) + 1 + len(in) + 1 + len(out) + 4 + len(r.Payload)
	buf := make([]byte, size)
	off := 0

	binary.BigEndian.PutUint32(buf[off:], magic)
	off += 4
	buf[off] = version
	off++
	buf[off] = byte(len(svc))
	off++
	off += copy(buf[off:], svc)
	buf[off] = byte(len(in))
	off++
	off += copy(buf[off:], in)
	buf[off] = byte(len(out))
	off++
	off += copy(buf[off:], out)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(r.Payload)))
	off += 4
	copy(buf[off:], r.Payload)

	return buf
}

// Decode parses a single frame. A magic/version mismatch, a payload length
// over maxFrameLen, or an unrecognized service/mesh-io-type tag all yield
// Message{Invalid: true} with a nil error. A frame whose input and output
// tags are both empty carries no mesh-io-type and decodes with the zero
// MeshIOType, as the broker's own replies do. Only a short read (the caller
// has fewer bytes than the frame claims to need) is a real error, since
// that signals the transport should wait for more data rather than treat
// the frame as malformed.
func Decode(buf []byte) (Message, error) {
	const fixedPrefix = 4 + 1 + 1
	if len(buf) < fixedPrefix {
		return Message{}, io.ErrUnexpectedEOF
	}

	off := 0
	gotMagic := binary.BigEndian.Uint32(buf[off:])
	off += 4
	gotVersion := buf[off]
	off++
	if gotMagic != magic || gotVersion != version {
		return Message{Invalid: true}, nil
	}

	svcLen := int(buf[off])
	off++
	if len(buf) < off+svcLen+1 {
		return Message{}, io.ErrUnexpectedEOF
	}
	svc := Service(buf[off : off+svcLen])
	off += svcLen

	inLen := int(buf[off])
	off++
	if len(buf) < off+inLen+1 {
		return Message{}, io.ErrUnexpectedEOF
	}
	in := string(buf[off : off+inLen])
	off += inLen

	outLen := int(buf[off])
	off++
	if len(buf) < off+outLen+4 {
		return Message{}, io.ErrUnexpectedEOF
	}
	out := string(buf[off : off+outLen])
	off += outLen

	payloadLen := binary.BigEndian.Uint32(buf[off:])
	off += 4
	if payloadLen > maxFrameLen {
		return Message{Invalid: true}, nil
	}
	if len(buf) < off+int(payloadLen) {
		return Message{}, io.ErrUnexpectedEOF
	}
	payload := append([]byte(nil), buf[off:off+int(payloadLen)]...)

	if !knownServices[svc] {
		return Message{Invalid: true}, nil
	}
	var mt meshtype.MeshIOType
	if in != "" || out != "" {
		var ok bool
		mt, ok = meshtype.Parse(in, out)
		if !ok {
			return Message{Invalid: true}, nil
		}
	}

	return Message{Service: svc, MeshIOType: mt, Payload: payload}, nil
}

// FrameLen reports the total byte length the frame starting at buf[0:]
// claims to occupy, or -1 if buf does not yet contain enough of the
// header to know. Transports use this to know how many more bytes to
// read before calling Decode on a complete frame.
func FrameLen(buf []byte) int {
	const fixedPrefix = 4 + 1 + 1
	if len(buf) < fixedPrefix {
		return -1
	}
	svcLen := int(buf[fixedPrefix-1])
	off := fixedPrefix + svcLen
	if len(buf) < off+1 {
		return -1
	}
	inLen := int(buf[off])
	off += 1 + inLen
	if len(buf) < off+1 {
		return -1
	}
	outLen := int(buf[off])
	off += 1 + outLen
	if len(buf) < off+4 {
		return -1
	}
	payloadLen := binary.BigEndian.Uint32(buf[off:])
	off += 4 + int(payloadLen)
	return off
}

// InvalidResponse builds the standard INVALID_MSG reply for a given
// service context, so internal/broker never hand-rolls the sentinel
// payload.
func InvalidResponse(svc Service) Response {
	return Response{Service: svc, Payload: []byte(InvalidMsg)}
}

