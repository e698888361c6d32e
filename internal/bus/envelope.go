package bus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hoppxi/umbra/pkg/brightness"
)

var ErrMalformed = errors.New("malformed envelope")

// RequestEnvelope is the payload broadcast on the request channel.
type RequestEnvelope struct {
	UUID       string             `json:"uuid"`
	Commands   []string           `json:"commands"`
	Parameters map[string]*string `json:"parameters"`
}

// ResponseEnvelope is the payload the helper broadcasts back.
type ResponseEnvelope struct {
	UUID    string  `json:"uuid"`
	Result  bool    `json:"result"`
	Payload *string `json:"payload"`
}

// Request is one of ListDisplays, GetBrightness or SetBrightness.
type Request interface {
	command() string
	parameters() map[string]*string
}

// ListDisplays asks the helper for every display it controls.
type ListDisplays struct{}

type GetBrightness struct {
	Identity string
}

type SetBrightness struct {
	Identity string
	Value    brightness.Value
}

func (ListDisplays) command() string { return "get" }
func (ListDisplays) parameters() map[string]*string {
	return map[string]*string{"identifiers": nil}
}

func (GetBrightness) command() string { return "get" }
func (r GetBrightness) parameters() map[string]*string {
	return map[string]*string{
		"uuid":    str(r.Identity),
		"feature": str("brightness"),
	}
}

func (SetBrightness) command() string { return "set" }
func (r SetBrightness) parameters() map[string]*string {
	return map[string]*string{
		"uuid":       str(r.Identity),
		"brightness": str(brightness.Clamp(float64(r.Value)).String()),
	}
}

func str(s string) *string { return &s }

// Envelope wraps req with its correlation token.
func Envelope(token string, req Request) RequestEnvelope {
	return RequestEnvelope{
		UUID:       token,
		Commands:   []string{req.command()},
		Parameters: req.parameters(),
	}
}

// Marshal encodes e. Map keys are sorted, so the output is deterministic.
func (e RequestEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Param returns the named parameter and whether it was present at all.
func (e RequestEnvelope) Param(name string) (*string, bool) {
	v, ok := e.Parameters[name]
	return v, ok
}

func DecodeRequest(data []byte) (RequestEnvelope, error) {
	var e RequestEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.UUID == "" || len(e.Commands) == 0 {
		return e, fmt.Errorf("%w: missing uuid or command", ErrMalformed)
	}
	return e, nil
}

func DecodeResponse(data []byte) (ResponseEnvelope, error) {
	var e ResponseEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.UUID == "" {
		return e, fmt.Errorf("%w: missing uuid", ErrMalformed)
	}
	return e, nil
}

func (e ResponseEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Text returns the payload, or "" when it is null.
func (e ResponseEnvelope) Text() string {
	if e.Payload == nil {
		return ""
	}
	return *e.Payload
}
