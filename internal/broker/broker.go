// Package broker carries gateway traffic between coordinator instances. A
// room broadcast reaches every instance; direct deliveries and termination
// requests reach the instance that owns the target connection.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

type Kind string

const (
	KindRoom      Kind = "room"
	KindDirect    Kind = "direct"
	KindTerminate Kind = "terminate"
)

var ErrClosed = errors.New("broker closed")

type Envelope struct {
	Origin  string          `json:"origin"`
	Kind    Kind            `json:"kind"`
	RoomID  string          `json:"roomId,omitempty"`
	ConnID  string          `json:"connId,omitempty"`
	Exclude []string        `json:"exclude,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Handler func(Envelope)

// Bus is implemented by Local, Redis and NATS.
type Bus interface {
	// PublishRoom delivers env to every subscribed instance except its origin.
	PublishRoom(ctx context.Context, env Envelope) error
	// PublishInstance delivers env to instanceID only.
	PublishInstance(ctx context.Context, instanceID string, env Envelope) error
	// Subscribe registers instanceID. The returned func stops delivery.
	Subscribe(ctx context.Context, instanceID string, handler Handler) (func(), error)
	Close() error
}

// InstanceOf extracts the owning instance of a connection id of the form
// <instance>.<uuid>.
func InstanceOf(connID string) string {
	if i := strings.LastIndexByte(connID, '.'); i > 0 {
		return connID[:i]
	}
	return ""
}

func decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
