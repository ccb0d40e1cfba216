// Package components holds the built-in component payloads shared by the
// collaborators and their registration in a world's type table.
package components

import (
	"fmt"
	"math"

	"github.com/zeusync/simcore/internal/core/ecs"
)

type Vec3 struct{ X, Y, Z float64 }

func (v Vec3) Add(o Vec3) Vec3         { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3         { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3    { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Len() float64            { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }
func (v Vec3) Distance(o Vec3) float64 { return v.Sub(o).Len() }

type Transform struct {
	Position Vec3    `json:"position"`
	Yaw      float64 `json:"yaw"`
	Scale    Vec3    `json:"scale"`
}

// Matrix returns the row-major 4x4 world matrix: scale, then yaw about Y,
// then translation.
func (t Transform) Matrix() [16]float64 {
	s, c := math.Sincos(t.Yaw)
	sc := t.Scale
	if sc == (Vec3{}) {
		sc = Vec3{1, 1, 1}
	}
	return [16]float64{
		c * sc.X, 0, s * sc.Z, t.Position.X,
		0, sc.Y, 0, t.Position.Y,
		-s * sc.X, 0, c * sc.Z, t.Position.Z,
		0, 0, 0, 1,
	}
}

type RigidBody struct {
	Velocity Vec3    `json:"velocity"`
	Mass     float64 `json:"mass"`
	// Static bodies are loaded into the solver but never moved.
	Static bool `json:"static"`
}

type MeshRenderer struct {
	Mesh     string `json:"mesh"`
	Material string `json:"material"`
}

type AudioSource struct {
	Clip    string  `json:"clip"`
	Volume  float64 `json:"volume"`
	Playing bool    `json:"playing"`
}

type AudioListener struct {
	Gain float64 `json:"gain"`
}

type NetworkIdentity struct {
	NetID uint64 `json:"net_id"`
	Owner string `json:"owner"`
}

// Type and tag names as registered in the type table.
const (
	Renderable = "Renderable"
	Physical   = "Physical"
	Audible    = "Audible"

	TransformName       = "Transform"
	RigidBodyName       = "RigidBody"
	MeshRendererName    = "MeshRenderer"
	AudioSourceName     = "AudioSource"
	AudioListenerName   = "AudioListener"
	NetworkIdentityName = "NetworkIdentity"
)

// Keys are the type keys of the built-ins in one type table.
type Keys struct {
	Renderable ecs.TypeKey
	Physical   ecs.TypeKey
	Audible    ecs.TypeKey

	Transform       ecs.TypeKey
	RigidBody       ecs.TypeKey
	MeshRenderer    ecs.TypeKey
	AudioSource     ecs.TypeKey
	AudioListener   ecs.TypeKey
	NetworkIdentity ecs.TypeKey
}

// Register adds the built-ins to types. It is idempotent, so every
// collaborator can call it on the same table and get the same keys.
func Register(types *ecs.Types) (Keys, error) {
	var (
		k   Keys
		err error
	)
	reg := func(dst *ecs.TypeKey, name string, alts ...ecs.TypeKey) {
		if err != nil {
			return
		}
		*dst, err = types.Register(name, alts...)
		if err != nil {
			err = fmt.Errorf("register %s: %w", name, err)
		}
	}
	reg(&k.Renderable, Renderable)
	reg(&k.Physical, Physical)
	reg(&k.Audible, Audible)
	reg(&k.Transform, TransformName)
	reg(&k.RigidBody, RigidBodyName, k.Physical)
	reg(&k.MeshRenderer, MeshRendererName, k.Renderable)
	reg(&k.AudioSource, AudioSourceName, k.Audible)
	reg(&k.AudioListener, AudioListenerName)
	reg(&k.NetworkIdentity, NetworkIdentityName)
	return k, err
}

// MustRegister is Register for setup code.
func MustRegister(types *ecs.Types) Keys {
	k, err := Register(types)
	if err != nil {
		panic(err)
	}
	return k
}

// New returns a zero payload pointer for a built-in type name.
func New(name string) (any, bool) {
	switch name {
	case TransformName:
		return &Transform{Scale: Vec3{1, 1, 1}}, true
	case RigidBodyName:
		return &RigidBody{Mass: 1}, true
	case MeshRendererName:
		return &MeshRenderer{}, true
	case AudioSourceName:
		return &AudioSource{Volume: 1}, true
	case AudioListenerName:
		return &AudioListener{Gain: 1}, true
	case NetworkIdentityName:
		return &NetworkIdentity{}, true
	default:
		return nil, false
	}
}
