package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// LengthFieldSize is the width of the frame length prefix.
const LengthFieldSize = 4

// Message is a decoded payload. The top level is always an object.
type Message map[string]any

// ProtocolError reports a malformed frame or payload. The stream can no
// longer be trusted to be aligned on frame boundaries, so the connection
// carrying it must be closed.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// Encode serializes msg with codec and prepends the length prefix.
func Encode(codec Codec, msg any) ([]byte, error) {
	payload, err := codec.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", codec.Name(), err)
	}
	return AppendFrame(make([]byte, 0, LengthFieldSize+len(payload)), payload), nil
}

// AppendFrame appends a frame carrying payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// Decoder reassembles frames from an arbitrary chunking of the byte stream.
// A Decoder belongs to exactly one connection and is not safe for concurrent
// use; partial frames are never visible to any other Decoder.
type Decoder struct {
	codec    Codec
	buf      []byte
	maxFrame uint32
	failed   error
}

type DecoderOption func(*Decoder)

// WithMaxFrameSize rejects frames whose declared payload length exceeds n.
func WithMaxFrameSize(n uint32) DecoderOption {
	return func(d *Decoder) {
		d.maxFrame = n
	}
}

func NewDecoder(codec Codec, opts ...DecoderOption) *Decoder {
	d := &Decoder{codec: codec}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// FeedFrames appends p to the reassembly buffer and returns the payloads of
// every frame that is now complete, in stream order. Bytes of a trailing
// incomplete frame stay buffered for the next call.
func (d *Decoder) FeedFrames(p []byte) ([][]byte, error) {
	if d.failed != nil {
		return nil, d.failed
	}
	d.buf = append(d.buf, p...)

	var frames [][]byte
	for len(d.buf) >= LengthFieldSize {
		n := binary.BigEndian.Uint32(d.buf[:LengthFieldSize])
		if d.maxFrame > 0 && n > d.maxFrame {
			d.failed = &ProtocolError{Reason: fmt.Sprintf("frame length %d exceeds maximum %d", n, d.maxFrame)}
			return frames, d.failed
		}
		total := LengthFieldSize + int(n)
		if len(d.buf) < total {
			break
		}
		payload := make([]byte, n)
		copy(payload, d.buf[LengthFieldSize:total])
		frames = append(frames, payload)
		d.buf = d.buf[total:]
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return frames, nil
}

// Feed is FeedFrames followed by payload decoding. Messages decoded before a
// failure are returned together with the error so the caller can answer them
// before tearing the connection down.
func (d *Decoder) Feed(p []byte) ([]Message, error) {
	frames, err := d.FeedFrames(p)

	msgs := make([]Message, 0, len(frames))
	for _, frame := range frames {
		msg, derr := d.decode(frame)
		if derr != nil {
			d.failed = derr
			d.buf = nil
			return msgs, derr
		}
		msgs = append(msgs, msg)
	}
	return msgs, err
}

func (d *Decoder) decode(payload []byte) (Message, error) {
	var v any
	if err := d.codec.Unmarshal(payload, &v); err != nil {
		return nil, &ProtocolError{Reason: "malformed " + d.codec.Name() + " payload", Err: err}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ProtocolError{Reason: fmt.Sprintf("payload top level is %T, want object", v)}
	}
	return Message(obj), nil
}
