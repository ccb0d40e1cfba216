package system

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Registration errors

	ErrInvalidSystem    = errors.New("invalid system descriptor")
	ErrDuplicateSystem  = errors.New("system already registered")
	ErrUnknownSystem    = errors.New("unknown system")
	ErrInvalidInterval  = errors.New("timed system interval must be positive")
	ErrInvalidSyncPoint = errors.New("invalid sync point")

	// ErrConfiguration matches every *ConfigError through errors.Is.
	ErrConfiguration = errors.New("unsafe system configuration")
)

// ConfigKind classifies configuration errors found at graph build time.
type ConfigKind uint8

const (
	UnsafeAccess ConfigKind = iota
	UnscopedAccess
	Cycle
	UnknownReference
)

func (k ConfigKind) String() string {
	switch k {
	case UnsafeAccess:
		return "unsafe access"
	case UnscopedAccess:
		return "unscoped access"
	case Cycle:
		return "dependency cycle"
	case UnknownReference:
		return "unknown reference"
	default:
		return "unknown"
	}
}

// ConfigError is fatal: the graph is not built and the tick does not run.
type ConfigError struct {
	Kind    ConfigKind
	Systems []string
	Type    string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	switch e.Kind {
	case UnsafeAccess:
		fmt.Fprintf(&b, ": %q and %q both access %s with at least one write and no ordering edge",
			e.Systems[0], e.Systems[1], e.Type)
	case UnscopedAccess:
		fmt.Fprintf(&b, ": %q and %q need an explicit ordering edge (whole-world access)",
			e.Systems[0], e.Systems[1])
	case Cycle:
		fmt.Fprintf(&b, ": %s", strings.Join(e.Systems, " -> "))
	case UnknownReference:
		fmt.Fprintf(&b, ": %q references %q", e.Systems[0], e.Systems[1])
	}
	return b.String()
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }
