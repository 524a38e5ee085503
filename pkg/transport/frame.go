// Package transport implements the length-prefixed binary framing used
// between a host and an out-of-process worker: each message is
// length:uint32_be‖payload, where payload is
// header_length:uint32_be‖header_json‖part_0‖part_1‖…, header_json
// declares each part's content type and byte length, and part 0 is
// always a JSON control packet.
package transport

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/loomgraph/loom/pkg/metrics"
	"github.com/loomgraph/loom/pkg/types"
)

// ContentType names the wire encoding of one message part.
type ContentType string

const (
	ContentNull   ContentType = "null"
	ContentBinary ContentType = "binary"
	ContentString ContentType = "string"
	ContentJSON   ContentType = "json"
)

// Part is one component of a framed message.
type Part struct {
	ContentType ContentType
	Data        []byte
}

// NullPart returns a zero-length null-typed part.
func NullPart() Part { return Part{ContentType: ContentNull} }

// BinaryPart wraps raw bytes.
func BinaryPart(data []byte) Part { return Part{ContentType: ContentBinary, Data: data} }

// StringPart wraps a UTF-8 string.
func StringPart(s string) Part { return Part{ContentType: ContentString, Data: []byte(s)} }

// JSONPart marshals v as a JSON part.
func JSONPart(v any) (Part, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Part{}, fmt.Errorf("transport: encoding json part: %w", err)
	}
	return Part{ContentType: ContentJSON, Data: data}, nil
}

// AsString decodes a string-typed part.
func (p Part) AsString() (string, error) {
	if p.ContentType != ContentString {
		return "", fmt.Errorf("transport: expected string part, got %q", p.ContentType)
	}
	return string(p.Data), nil
}

// AsJSON decodes a json-typed part into v.
func (p Part) AsJSON(v any) error {
	if p.ContentType != ContentJSON {
		return fmt.Errorf("transport: expected json part, got %q", p.ContentType)
	}
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("transport: decoding json part: %w", err)
	}
	return nil
}

type componentDesc struct {
	ContentType ContentType `json:"content_type"`
	Length      int         `json:"length"`
}

type header struct {
	Components []componentDesc `json:"components"`
}

// WriteFrame writes one complete framed message: a control packet (part
// 0) followed by any number of additional payload parts.
func WriteFrame(w io.Writer, parts ...Part) error {
	if len(parts) == 0 {
		return fmt.Errorf("transport: a frame requires at least a control packet part")
	}

	h := header{Components: make([]componentDesc, len(parts))}
	var body bytes.Buffer
	for i, p := range parts {
		h.Components[i] = componentDesc{ContentType: p.ContentType, Length: len(p.Data)}
		body.Write(p.Data)
	}

	headerJSON, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("transport: encoding frame header: %w", err)
	}

	var payload bytes.Buffer
	if err := binary.Write(&payload, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return err
	}
	payload.Write(headerJSON)
	payload.Write(body.Bytes())

	if err := binary.Write(w, binary.BigEndian, uint32(payload.Len())); err != nil {
		metrics.TransportErrorsTotal.Inc()
		return &types.TransportError{Reason: "writing frame length prefix", Cause: err}
	}
	if _, err := w.Write(payload.Bytes()); err != nil {
		metrics.TransportErrorsTotal.Inc()
		return &types.TransportError{Reason: "writing frame payload", Cause: err}
	}
	metrics.TransportFramesTotal.WithLabelValues("sent").Inc()
	return nil
}

// ReadFrame reads one complete framed message and decodes it back into
// its constituent parts, in order.
func ReadFrame(r io.Reader) ([]Part, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		metrics.TransportErrorsTotal.Inc()
		return nil, &types.TransportError{Reason: "reading frame length prefix", Cause: err}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		metrics.TransportErrorsTotal.Inc()
		return nil, &types.TransportError{Reason: "reading frame payload", Cause: err}
	}

	if len(payload) < 4 {
		metrics.TransportErrorsTotal.Inc()
		return nil, &types.TransportError{Reason: "frame payload shorter than header length prefix"}
	}
	headerLen := binary.BigEndian.Uint32(payload[:4])
	rest := payload[4:]
	if uint32(len(rest)) < headerLen {
		metrics.TransportErrorsTotal.Inc()
		return nil, &types.TransportError{Reason: "frame payload shorter than declared header"}
	}

	var h header
	if err := json.Unmarshal(rest[:headerLen], &h); err != nil {
		metrics.TransportErrorsTotal.Inc()
		return nil, &types.TransportError{Reason: "decoding frame header json", Cause: err}
	}

	body := rest[headerLen:]
	parts := make([]Part, len(h.Components))
	offset := 0
	for i, c := range h.Components {
		if offset+c.Length > len(body) {
			metrics.TransportErrorsTotal.Inc()
			return nil, &types.TransportError{Reason: "frame body shorter than declared component lengths"}
		}
		parts[i] = Part{ContentType: c.ContentType, Data: body[offset : offset+c.Length]}
		offset += c.Length
	}
	metrics.TransportFramesTotal.WithLabelValues("received").Inc()
	return parts, nil
}
