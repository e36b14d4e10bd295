// SPDX-License-Identifier: MPL-2.0

package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

const (
	// CodecJSON frames one JSON object per line.
	CodecJSON Codec = "json"
	// CodecCBOR frames a sequence of CBOR data items.
	CodecCBOR Codec = "cbor"

	// MaxMessageSize bounds a single incoming JSON line.
	MaxMessageSize = 16 << 20
)

var (
	// ErrInvalidCodec is returned when a Codec value is not recognized.
	ErrInvalidCodec = errors.New("invalid codec")
	// ErrMalformedMessage is the sentinel error wrapped by DecodeError.
	ErrMalformedMessage = errors.New("malformed message")

	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

type (
	// Codec selects the stream framing.
	Codec string

	// InvalidCodecError is returned when a Codec value is not recognized.
	// It wraps ErrInvalidCodec for errors.Is() compatibility.
	InvalidCodecError struct {
		Value Codec
	}

	// Encoder writes whole messages. Safe for concurrent use: messages
	// never interleave.
	Encoder interface {
		Encode(msg any) error
	}

	// Decoder reads incoming messages. It returns io.EOF at the end of the
	// stream and a *DecodeError for a single message it could not decode,
	// after which decoding may continue.
	Decoder interface {
		Decode() (*Request, error)
	}

	// DecodeError reports one undecodable message.
	// It wraps ErrMalformedMessage and the cause for errors.Is() compatibility.
	DecodeError struct {
		// ExecutionID is recovered from the message when possible.
		ExecutionID string
		Err         error
	}

	jsonEncoder struct {
		mu sync.Mutex
		w  io.Writer
	}

	jsonDecoder struct {
		scanner *bufio.Scanner
	}

	cborEncoder struct {
		mu sync.Mutex
		w  io.Writer
	}

	cborDecoder struct {
		dec *cbor.Decoder
	}

	// cborRequest mirrors Request with arguments kept as decoded values.
	cborRequest struct {
		Type             MessageType    `cbor:"type,omitempty"`
		ExecutionID      string         `cbor:"executionId"`
		Kind             FunctionKind   `cbor:"kind,omitempty"`
		MainFunction     *FunctionUnit  `cbor:"mainFunction,omitempty"`
		BeforeFunctions  []cborFunction `cbor:"beforeFunctions,omitempty"`
		Args             any            `cbor:"args,omitempty"`
		TimeoutMs        int64          `cbor:"timeoutMs,omitempty"`
		SensitiveStrings []string       `cbor:"sensitiveStrings,omitempty"`
	}

	cborFunction struct {
		Code        string `cbor:"code"`
		HandlerName string `cbor:"handlerName"`
		Arg         any    `cbor:"arg,omitempty"`
	}
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	var err error
	cborEnc, err = encOptions.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// Validate returns nil if the codec is json or cbor.
func (c Codec) Validate() error {
	switch c {
	case CodecJSON, CodecCBOR:
		return nil
	default:
		return &InvalidCodecError{Value: c}
	}
}

// Error implements the error interface for InvalidCodecError.
func (e *InvalidCodecError) Error() string {
	return fmt.Sprintf("invalid codec %q (valid: json, cbor)", e.Value)
}

// Unwrap returns ErrInvalidCodec for errors.Is() compatibility.
func (e *InvalidCodecError) Unwrap() error { return ErrInvalidCodec }

// Error implements the error interface for DecodeError.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed message: %v", e.Err)
}

// Unwrap returns ErrMalformedMessage and the cause.
func (e *DecodeError) Unwrap() []error { return []error{ErrMalformedMessage, e.Err} }

// NewEncoder returns an Encoder for the codec.
func NewEncoder(c Codec, w io.Writer) (Encoder, error) {
	switch c {
	case CodecJSON, "":
		return &jsonEncoder{w: w}, nil
	case CodecCBOR:
		return &cborEncoder{w: w}, nil
	default:
		return nil, &InvalidCodecError{Value: c}
	}
}

// NewDecoder returns a Decoder for the codec.
func NewDecoder(c Codec, r io.Reader) (Decoder, error) {
	switch c {
	case CodecJSON, "":
		s := bufio.NewScanner(r)
		s.Buffer(make([]byte, 0, 64*1024), MaxMessageSize)
		return &jsonDecoder{scanner: s}, nil
	case CodecCBOR:
		return &cborDecoder{dec: cborDec.NewDecoder(r)}, nil
	default:
		return nil, &InvalidCodecError{Value: c}
	}
}

// Encode writes msg followed by a newline in a single write.
func (e *jsonEncoder) Encode(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %T: %w", msg, err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}

// Decode reads the next non-blank line.
func (d *jsonDecoder) Decode() (*Request, error) {
	for d.scanner.Scan() {
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			return nil, &DecodeError{ExecutionID: peekExecutionID(line), Err: err}
		}
		return &req, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// peekExecutionID recovers the id of a message that failed to decode.
func peekExecutionID(line []byte) string {
	var partial struct {
		ExecutionID any `json:"executionId"`
	}
	if json.Unmarshal(line, &partial) != nil {
		return ""
	}
	id, _ := partial.ExecutionID.(string)
	return id
}

// Encode writes msg as one CBOR data item.
func (e *cborEncoder) Encode(msg any) error {
	data, err := cborEnc.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %T: %w", msg, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}

// Decode reads the next data item. A well-formed item of the wrong shape is
// reported as a DecodeError; broken framing ends the stream.
func (d *cborDecoder) Decode() (*Request, error) {
	var wire cborRequest
	if err := d.dec.Decode(&wire); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		var typeErr *cbor.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &DecodeError{Err: err}
		}
		return nil, err
	}

	req := &Request{
		Type:             wire.Type,
		ExecutionID:      wire.ExecutionID,
		Kind:             wire.Kind,
		MainFunction:     wire.MainFunction,
		TimeoutMs:        wire.TimeoutMs,
		SensitiveStrings: wire.SensitiveStrings,
	}
	var err error
	if req.Args, err = rawJSON(wire.Args); err != nil {
		return nil, &DecodeError{ExecutionID: wire.ExecutionID, Err: err}
	}
	for _, b := range wire.BeforeFunctions {
		arg, err := rawJSON(b.Arg)
		if err != nil {
			return nil, &DecodeError{ExecutionID: wire.ExecutionID, Err: err}
		}
		req.BeforeFunctions = append(req.BeforeFunctions, BeforeFunction{Code: b.Code, HandlerName: b.HandlerName, Arg: arg})
	}
	return req, nil
}

func rawJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("argument is not representable as JSON: %w", err)
	}
	return data, nil
}
