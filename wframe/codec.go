package wframe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Flag bits of the leading wire byte.
const (
	flagMore    byte = 0x01
	flagLong    byte = 0x02
	flagCommand byte = 0x04

	knownFlags = flagMore | flagLong | flagCommand
)

// DefaultMaxPayloadSize bounds inbound payload sizes
// when a [Reader] is created with a non-positive limit.
const DefaultMaxPayloadSize = 64 << 20

// ErrPayloadTooLarge indicates an inbound frame declared a payload
// larger than the reader's limit.
// Reads of the underlying stream cannot continue past such a frame.
var ErrPayloadTooLarge = errors.New("frame payload exceeds size limit")

// Writer encodes frames onto a byte stream.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	w io.Writer

	// Scratch space for the flags byte and the long length.
	hdr [9]byte
}

// NewWriter returns a Writer encoding frames onto w.
// The caller is responsible for any buffering of w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame encodes f onto the underlying stream.
func (w *Writer) WriteFrame(f Frame) error {
	flags, err := wireFlags(f)
	if err != nil {
		return err
	}

	hdr := w.hdr[:0]
	if len(f.Payload) > 255 {
		hdr = append(hdr, flags|flagLong)
		hdr = binary.BigEndian.AppendUint64(hdr, uint64(len(f.Payload)))
	} else {
		hdr = append(hdr, flags, byte(len(f.Payload)))
	}

	if _, err := w.w.Write(hdr); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if len(f.Payload) == 0 {
		return nil
	}
	if _, err := w.w.Write(f.Payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	return nil
}

// Reader decodes frames from a byte stream.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	r io.Reader

	maxPayloadSize uint64

	// Scratch space for the flags byte and the long length.
	hdr [8]byte
}

// NewReader returns a Reader decoding frames from r.
//
// Frames declaring a payload larger than maxPayloadSize
// fail with an error matching [ErrPayloadTooLarge];
// a non-positive limit means [DefaultMaxPayloadSize].
func NewReader(r io.Reader, maxPayloadSize int64) *Reader {
	if maxPayloadSize <= 0 {
		maxPayloadSize = DefaultMaxPayloadSize
	}
	return &Reader{r: r, maxPayloadSize: uint64(maxPayloadSize)}
}

// ReadFrame decodes the next frame from the underlying stream.
//
// A clean end of stream at a frame boundary returns [io.EOF] unwrapped;
// an end of stream inside a frame is reported as [io.ErrUnexpectedEOF].
func (r *Reader) ReadFrame() (Frame, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:1]); err != nil {
		if err == io.EOF {
			// Okay: the stream ended between frames.
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("failed to read frame flags: %w", err)
	}

	flags := r.hdr[0]
	if bad := flags &^ knownFlags; bad != 0 {
		return Frame{}, fmt.Errorf("malformed frame: unknown flag bits 0x%02x", bad)
	}
	if flags&flagCommand != 0 && flags&flagMore != 0 {
		return Frame{}, errors.New("malformed frame: command frame claims more frames follow")
	}

	var size uint64
	if flags&flagLong != 0 {
		if _, err := io.ReadFull(r.r, r.hdr[:8]); err != nil {
			return Frame{}, fmt.Errorf("failed to read long frame length: %w", midFrame(err))
		}
		size = binary.BigEndian.Uint64(r.hdr[:8])
	} else {
		if _, err := io.ReadFull(r.r, r.hdr[:1]); err != nil {
			return Frame{}, fmt.Errorf("failed to read frame length: %w", midFrame(err))
		}
		size = uint64(r.hdr[0])
	}

	if size > r.maxPayloadSize {
		return Frame{}, fmt.Errorf(
			"refusing %d byte payload with %d byte limit: %w",
			size, r.maxPayloadSize, ErrPayloadTooLarge,
		)
	}

	f := Frame{More: flags&flagMore != 0}
	if flags&flagCommand != 0 {
		f.Kind = KindCommand
	}
	if size > 0 {
		f.Payload = make([]byte, size)
		if _, err := io.ReadFull(r.r, f.Payload); err != nil {
			return Frame{}, fmt.Errorf("failed to read %d byte frame payload: %w", size, midFrame(err))
		}
	}
	return f, nil
}

// midFrame maps a bare end of stream to [io.ErrUnexpectedEOF].
// Past the flags byte, any truncation leaves a partial frame,
// even when it falls on a read boundary.
func midFrame(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// AppendWire appends f's boundary-preserving wire form to dst,
// returning the extended slice.
// The form is the flags byte followed by the raw payload, with no length;
// it only suits carriers that delimit messages themselves,
// such as one frame per WebSocket binary message.
//
// The payload bytes are copied into dst, so dst is safe to retain
// after f's payload is reused.
func AppendWire(dst []byte, f Frame) ([]byte, error) {
	flags, err := wireFlags(f)
	if err != nil {
		return dst, err
	}
	dst = append(dst, flags)
	return append(dst, f.Payload...), nil
}

// ParseWire decodes one frame from its boundary-preserving wire form.
//
// The returned frame's payload aliases p,
// so the caller must not reuse p's backing array
// while the frame is live.
func ParseWire(p []byte) (Frame, error) {
	if len(p) == 0 {
		return Frame{}, errors.New("malformed frame: empty wire form")
	}

	flags := p[0]
	if bad := flags &^ knownFlags; bad != 0 {
		return Frame{}, fmt.Errorf("malformed frame: unknown flag bits 0x%02x", bad)
	}
	if flags&flagLong != 0 {
		// The boundary-preserving form never carries a length.
		return Frame{}, errors.New("malformed frame: long flag in boundary-preserving form")
	}
	if flags&flagCommand != 0 && flags&flagMore != 0 {
		return Frame{}, errors.New("malformed frame: command frame claims more frames follow")
	}

	f := Frame{More: flags&flagMore != 0}
	if flags&flagCommand != 0 {
		f.Kind = KindCommand
	}
	if len(p) > 1 {
		f.Payload = p[1:]
	}
	return f, nil
}

func wireFlags(f Frame) (byte, error) {
	var flags byte
	switch f.Kind {
	case KindMessage:
		// Okay.
	case KindCommand:
		if f.More {
			return 0, errors.New("cannot encode command frame with More set")
		}
		flags |= flagCommand
	default:
		return 0, fmt.Errorf("cannot encode frame with unknown kind %d", f.Kind)
	}
	if f.More {
		flags |= flagMore
	}
	return flags, nil
}
