// Package wire defines the two messages exchanged over every hop of a loader
// chain and their frame encoding.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"loaderchain.dev/internal/module"
)

// ErrProtocol marks frames that do not belong to the protocol. Receiving one
// is a programming error, never a per-request failure.
var ErrProtocol = errors.New("wire: protocol violation")

// RequestID correlates a reply with its request. Ids are assigned by the
// requesting endpoint and are unique per channel pair.
type RequestID uint64

type Type string

const (
	TypeResolveRequest  Type = "resolveRequest"
	TypeResolveResponse Type = "resolveResponse"
)

// Message is either a ResolveRequest or a ResolveResponse.
type Message interface {
	MessageType() Type
	RequestID() RequestID
	sealed()
}

type ResolveRequest struct {
	ID        RequestID       `json:"-"`
	Specifier string          `json:"specifier"`
	Callsite  module.Callsite `json:"callsite"`
}

func (m ResolveRequest) MessageType() Type    { return TypeResolveRequest }
func (m ResolveRequest) RequestID() RequestID { return m.ID }
func (ResolveRequest) sealed()                {}

// ResolveResponse carries either a descriptor or, when Failed, an error.
type ResolveResponse struct {
	ID     RequestID
	Failed bool
	Value  module.Descriptor
	Error  *module.Error
}

func (m ResolveResponse) MessageType() Type    { return TypeResolveResponse }
func (m ResolveResponse) RequestID() RequestID { return m.ID }
func (ResolveResponse) sealed()                {}

func Success(id RequestID, d module.Descriptor) ResolveResponse {
	return ResolveResponse{ID: id, Value: d}
}

func Failure(id RequestID, err error) ResolveResponse {
	return ResolveResponse{ID: id, Failed: true, Error: module.AsError(err)}
}

// Result unwraps the response into the values a caller sees.
func (m ResolveResponse) Result() (module.Descriptor, error) {
	if m.Failed {
		return module.Descriptor{}, m.Error
	}
	return m.Value, nil
}

type envelope struct {
	Type Type            `json:"type"`
	ID   RequestID       `json:"id"`
	Data json.RawMessage `json:"data"`
}

type responseData struct {
	Failed bool            `json:"failed"`
	Value  json.RawMessage `json:"value"`
}

// Encode renders m as a self-describing frame.
func Encode(m Message) ([]byte, error) {
	var data any
	switch m := m.(type) {
	case ResolveRequest:
		data = m
	case ResolveResponse:
		var value any = m.Value
		if m.Failed {
			if m.Error == nil {
				return nil, fmt.Errorf("wire: encode request %d: failed response without error", m.ID)
			}
			value = m.Error
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("wire: encode value for request %d: %w", m.ID, err)
		}
		data = responseData{Failed: m.Failed, Value: raw}
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrProtocol, m)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s %d: %w", m.MessageType(), m.RequestID(), err)
	}
	return json.Marshal(envelope{Type: m.MessageType(), ID: m.RequestID(), Data: raw})
}

// Decode parses a frame. Anything that is not one of the two known messages
// yields an error wrapping ErrProtocol.
func Decode(frame []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed frame: %v", ErrProtocol, err)
	}
	switch env.Type {
	case TypeResolveRequest:
		var req ResolveRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return nil, fmt.Errorf("%w: malformed %s %d: %v", ErrProtocol, env.Type, env.ID, err)
		}
		req.ID = env.ID
		return req, nil
	case TypeResolveResponse:
		var data responseData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: malformed %s %d: %v", ErrProtocol, env.Type, env.ID, err)
		}
		res := ResolveResponse{ID: env.ID, Failed: data.Failed}
		if data.Failed {
			res.Error = &module.Error{}
			if err := json.Unmarshal(data.Value, res.Error); err != nil {
				return nil, fmt.Errorf("%w: malformed error in %s %d: %v", ErrProtocol, env.Type, env.ID, err)
			}
		} else if err := json.Unmarshal(data.Value, &res.Value); err != nil {
			return nil, fmt.Errorf("%w: malformed value in %s %d: %v", ErrProtocol, env.Type, env.ID, err)
		}
		return res, nil
	default:
		return nil, fmt.Errorf("%w: unexpected message type %q", ErrProtocol, env.Type)
	}
}
