// Package hostproc runs the native engine in a separate host process and
// talks to it over length-prefixed msgpack frames on stdin and stdout.
package hostproc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/pkg/rules"
)

const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Type discriminates frames.
type Type string

const (
	TypeCall           Type = "call"
	TypeResult         Type = "result"
	TypeMappingRequest Type = "mapping_request"
	TypeMappingReply   Type = "mapping_reply"
	TypeLog            Type = "log"
)

// Op names the engine call carried by a call frame.
type Op string

const (
	OpCreate         Op = "create"
	OpLoad           Op = "load"
	OpSetReplacement Op = "set_replacement"
	OpAddRule        Op = "add_rule"
	OpImport         Op = "import_intermediate"
	OpExport         Op = "export_intermediate"
	OpSave           Op = "save"
	OpSetMapping     Op = "set_mapping_callback"
	OpFree           Op = "free"
	OpSetLogCallback Op = "set_log_callback"
)

// Frame is one message in either direction. Unused fields are omitted.
type Frame struct {
	Type     Type             `msgpack:"type"`
	ID       uint64           `msgpack:"id"`
	Op       Op               `msgpack:"op,omitempty"`
	Handle   uint64           `msgpack:"handle,omitempty"`
	Path     string           `msgpack:"path,omitempty"`
	Mask     engine.SaveMask  `msgpack:"mask,omitempty"`
	Settings *engine.Settings `msgpack:"settings,omitempty"`
	Rule     *rules.Pair      `msgpack:"rule,omitempty"`
	Code     engine.Code      `msgpack:"code"`
	Level    engine.Level     `msgpack:"level,omitempty"`
	Message  string           `msgpack:"message,omitempty"`
	Enabled  bool             `msgpack:"enabled,omitempty"`
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the stream cannot continue after e.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// Decoder reads frames from a stream.
type Decoder struct {
	reader io.Reader
}

// NewDecoder creates a new frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: r}
}

// ReadFrame reads and decodes a single frame.
//
// Errors:
//   - io.EOF: stream ended cleanly
//   - *FrameError: partial, oversized or undecodable frame
func (d *Decoder) ReadFrame() (*Frame, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", size, MaxPayloadSize),
		}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read payload", Err: err}
	}

	var f Frame
	if err := msgpack.Unmarshal(payload, &f); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode frame", Err: err}
	}
	return &f, nil
}

// Encoder writes frames to a stream. It is safe for concurrent use.
type Encoder struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewEncoder creates a new frame encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// WriteFrame encodes f and writes it with its length prefix.
func (e *Encoder) WriteFrame(f *Frame) error {
	payload, err := msgpack.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.writer.Write(buf)
	return err
}
