// Package wire defines the JSON envelope exchanged over the room/cluster
// TCP protocol (spec.md §6) and the helpers needed to cope with its loosely
// typed "client" field.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request is the generic command envelope every client sends. Method and
// Client are required; BroadcastAddr is optional and, when present, tells
// the room where to UDP-broadcast state snapshots for this client
// (spec.md §6, "broadcast_addr").
type Request struct {
	Method        string          `json:"method"`
	Client        json.RawMessage `json:"client"`
	BroadcastAddr string          `json:"broadcast_addr,omitempty"`
}

// Response is the generic JSON reply shape. It is intentionally untyped,
// matching the variety of shapes command handlers return (pos, room,
// success, error, msg, ...).
type Response map[string]any

// ErrMissingFields mirrors the source's "malformed incomming command" error,
// returned when method or client is absent from the request.
var ErrMissingFields = fmt.Errorf("malformed incoming command: missing method or client")

// ParseRequest decodes a single JSON request and normalizes its client field
// to a plain string. The wire format allows client to be a JSON string or a
// JSON number (spec.md §3, "Client identity"); both normalize to the same
// string key so the engine layer never has to care which one arrived.
func ParseRequest(data []byte) (Request, string, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, "", fmt.Errorf("must be formatted as json: %w", err)
	}
	if req.Method == "" || len(req.Client) == 0 {
		return Request{}, "", ErrMissingFields
	}
	client, err := NormalizeClient(req.Client)
	if err != nil {
		return Request{}, "", err
	}
	return req, client, nil
}

// NormalizeClient converts a raw JSON client value (string or number) into
// its canonical string form.
func NormalizeClient(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var asNumber json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&asNumber); err == nil {
		return asNumber.String(), nil
	}
	return "", fmt.Errorf("client field must be a string or number")
}

// ErrorResponse builds the {"error": msg} shape every malformed-request path
// returns (spec.md §7).
func ErrorResponse(msg string) Response {
	return Response{"error": msg}
}

// MethodUnknown builds the "method does not exist" error spec.md §7
// describes, naming the engine type for debuggability.
func MethodUnknown(method, engineType string) Response {
	return Response{"error": fmt.Sprintf("method %s does not exist for engine: %s", method, engineType)}
}
