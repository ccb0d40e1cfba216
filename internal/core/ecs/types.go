package ecs

import (
	"fmt"
	"math"
	"slices"
	"sync"
)

// TypeKey names a concrete component type or a capability tag.
type TypeKey uint16

// NoType is never assigned by a Types table.
const NoType TypeKey = math.MaxUint16

// TypeInfo describes a registered key. Tags are keys registered without
// being used as a concrete component kind; the table does not distinguish
// the two.
type TypeInfo struct {
	Key        TypeKey
	Name       string
	Alternates []TypeKey
}

// Types is the registration-time table of component kinds and the
// capability tags each kind declares. Lookups are safe for concurrent use.
type Types struct {
	mu     sync.RWMutex
	byName map[string]TypeKey
	infos  []TypeInfo
}

func NewTypes() *Types {
	return &Types{byName: make(map[string]TypeKey)}
}

// Register declares name with its alternate keys. Re-registering the same
// name with the same alternates returns the existing key.
func (t *Types) Register(name string, alternates ...TypeKey) (TypeKey, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, alt := range alternates {
		if int(alt) >= len(t.infos) {
			return NoType, fmt.Errorf("register %q: alternate %d: %w", name, alt, ErrUnknownType)
		}
	}

	if key, ok := t.byName[name]; ok {
		if !sameKeys(t.infos[key].Alternates, normalizeKeys(key, alternates)) {
			return NoType, fmt.Errorf("register %q: %w", name, ErrTypeRedefinition)
		}
		return key, nil
	}

	if len(t.infos) >= int(NoType) {
		return NoType, ErrTooManyTypes
	}

	key := TypeKey(len(t.infos))
	t.infos = append(t.infos, TypeInfo{Key: key, Name: name, Alternates: normalizeKeys(key, alternates)})
	t.byName[name] = key
	return key, nil
}

// MustRegister is Register for package setup code.
func (t *Types) MustRegister(name string, alternates ...TypeKey) TypeKey {
	key, err := t.Register(name, alternates...)
	if err != nil {
		panic(err)
	}
	return key
}

// Tag declares a capability tag with no alternates of its own.
func (t *Types) Tag(name string) (TypeKey, error) {
	return t.Register(name)
}

func (t *Types) Key(name string) (TypeKey, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key, ok := t.byName[name]
	return key, ok
}

func (t *Types) Info(key TypeKey) (TypeInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(key) >= len(t.infos) {
		return TypeInfo{}, false
	}
	return t.infos[key], true
}

// Name returns the registered name of key, or a placeholder for unknown keys.
func (t *Types) Name(key TypeKey) string {
	if info, ok := t.Info(key); ok {
		return info.Name
	}
	return fmt.Sprintf("type#%d", key)
}

// Names maps keys to their names, preserving order.
func (t *Types) Names(keys []TypeKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = t.Name(k)
	}
	return out
}

// Subclasses returns the keys that declare key as an alternate, in
// registration order.
func (t *Types) Subclasses(key TypeKey) []TypeKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []TypeKey
	for _, info := range t.infos {
		if slices.Contains(info.Alternates, key) {
			out = append(out, info.Key)
		}
	}
	return out
}

// indexKeys returns key followed by its alternates: every redundant set a
// component of this kind belongs to.
func (t *Types) indexKeys(key TypeKey) []TypeKey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(key) >= len(t.infos) {
		return []TypeKey{key}
	}
	alts := t.infos[key].Alternates
	out := make([]TypeKey, 0, len(alts)+1)
	out = append(out, key)
	return append(out, alts...)
}

func (t *Types) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.infos)
}

// normalizeKeys drops duplicates and self references.
func normalizeKeys(self TypeKey, keys []TypeKey) []TypeKey {
	out := make([]TypeKey, 0, len(keys))
	for _, k := range keys {
		if k != self && !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

func sameKeys(a, b []TypeKey) bool {
	return len(a) == len(b) && subsetKeys(a, b)
}

func subsetKeys(a, b []TypeKey) bool {
	for _, k := range a {
		if !slices.Contains(b, k) {
			return false
		}
	}
	return true
}
