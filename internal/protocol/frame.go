package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the length of the fixed frame header: 1 byte type,
// 2 bytes big-endian payload length.
const HeaderSize = 3

// MaxPayloadSize bounds a single frame's JSON payload (length field is
// 16 bits).
const MaxPayloadSize = 1<<16 - 1

// ErrUnknownType is returned by Decode when the frame's type byte does
// not match any MessageType this protocol understands.
var ErrUnknownType = errors.New("protocol: unknown message type")

// ErrPayloadTooLarge is returned by Encode when the JSON-encoded payload
// would not fit in the 16-bit length field.
var ErrPayloadTooLarge = errors.New("protocol: payload exceeds frame length field")

// EncodeRequest serializes a Request into a length-prefixed frame.
func EncodeRequest(r *Request) ([]byte, error) {
	return encode(TypeRequest, r)
}

// EncodeResponse serializes a Response into a length-prefixed frame.
func EncodeResponse(r *Response) ([]byte, error) {
	return encode(TypeResponse, r)
}

func encode(t MessageType, v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal payload: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = byte(t)
	binary.BigEndian.PutUint16(frame[1:3], uint16(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// ReadFrame reads one complete frame (header + payload) from r. It
// returns io.EOF only when the connection closed cleanly before any
// bytes of a new frame arrived.
func ReadFrame(r io.Reader) (MessageType, []byte, error) {
	t, length, err := ReadHeader(r)
	if err != nil {
		return 0, nil, err
	}
	payload, err := ReadPayload(r, length)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return t, payload, nil
}

// ReadHeader reads just the fixed frame header, returning the
// message type and the payload length still to be read with
// ReadPayload. Split out from ReadFrame so a caller juggling a
// read deadline (e.g. a TCP listener polling for shutdown) can apply
// one deadline while waiting for a new frame to start, and a separate
// one while the payload is still arriving, rather than risking a
// timeout landing between the two reads and desyncing the stream.
func ReadHeader(r io.Reader) (MessageType, uint16, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, 0, err
	}
	t := MessageType(header[0])
	length := binary.BigEndian.Uint16(header[1:3])
	return t, length, nil
}

// ReadPayload reads exactly length bytes of frame payload from r.
func ReadPayload(r io.Reader, length uint16) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Decode turns a frame's type and payload into a Request or Response.
// Any other recognized type decodes to nil, nil (reserved control
// messages carry no semantic payload in this spec).
func Decode(t MessageType, payload []byte) (interface{}, error) {
	switch t {
	case TypeRequest:
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("protocol: unmarshal request: %w", err)
		}
		return &req, nil
	case TypeResponse:
		var resp Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			return nil, fmt.Errorf("protocol: unmarshal response: %w", err)
		}
		return &resp, nil
	case TypeHeartbeat, TypeScaleUp, TypeShutdown:
		return nil, nil
	default:
		return nil, ErrUnknownType
	}
}
