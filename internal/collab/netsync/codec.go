package netsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/zeusync/simcore/internal/core/components"
	"github.com/zeusync/simcore/internal/core/ecs"
)

const (
	OpSpawn   = "spawn"
	OpDespawn = "despawn"
)

var (
	ErrUnknownOp        = errors.New("unknown op")
	ErrUnknownComponent = errors.New("unknown component")
)

// Message is one feed frame. Components maps registered type names to the
// JSON form of their payloads.
type Message struct {
	Op         string                     `json:"op"`
	NetID      uint64                     `json:"net_id"`
	Owner      string                     `json:"owner,omitempty"`
	Components map[string]json.RawMessage `json:"components,omitempty"`
}

// Part is a decoded component ready to be attached.
type Part struct {
	Kind  ecs.TypeKey
	Value any
}

// Codec turns feed messages into typed payloads using per-name factories.
type Codec struct {
	types *ecs.Types

	mu        sync.RWMutex
	factories map[string]func() any
}

// NewCodec knows every built-in component.
func NewCodec(types *ecs.Types) (*Codec, error) {
	if _, err := components.Register(types); err != nil {
		return nil, err
	}
	c := &Codec{types: types, factories: make(map[string]func() any)}
	for _, name := range []string{
		components.TransformName,
		components.RigidBodyName,
		components.MeshRendererName,
		components.AudioSourceName,
		components.AudioListenerName,
		components.NetworkIdentityName,
	} {
		c.factories[name] = func() any {
			v, _ := components.New(name)
			return v
		}
	}
	return c, nil
}

// Register adds a factory for a type already present in the type table.
func (c *Codec) Register(name string, factory func() any) error {
	if _, ok := c.types.Key(name); !ok {
		return fmt.Errorf("codec %q: %w", name, ecs.ErrUnknownType)
	}
	c.mu.Lock()
	c.factories[name] = factory
	c.mu.Unlock()
	return nil
}

func (c *Codec) Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode: %w", err)
	}
	switch msg.Op {
	case OpSpawn, OpDespawn:
	default:
		return Message{}, fmt.Errorf("decode %q: %w", msg.Op, ErrUnknownOp)
	}
	return msg, nil
}

// Parts decodes the components of msg in name order.
func (c *Codec) Parts(msg Message) ([]Part, error) {
	names := slices.Sorted(maps.Keys(msg.Components))
	parts := make([]Part, 0, len(names))

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range names {
		factory, ok := c.factories[name]
		if !ok {
			return nil, fmt.Errorf("component %q: %w", name, ErrUnknownComponent)
		}
		kind, _ := c.types.Key(name)
		value := factory()
		if err := json.Unmarshal(msg.Components[name], value); err != nil {
			return nil, fmt.Errorf("component %q: %w", name, err)
		}
		parts = append(parts, Part{Kind: kind, Value: value})
	}
	return parts, nil
}

func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
