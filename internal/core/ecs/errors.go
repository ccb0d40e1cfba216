package ecs

import "errors"

var (
	// Entity errors

	ErrInvalidEntity = errors.New("invalid entity")

	// Component errors

	ErrComponentNotFound  = errors.New("component not found")
	ErrDuplicateComponent = errors.New("component already present")
	ErrForeignComponent   = errors.New("component belongs to another entity")
	ErrPayloadType        = errors.New("component payload has unexpected type")

	// Type table errors

	ErrUnknownType      = errors.New("unknown component type")
	ErrTypeRedefinition = errors.New("component type redefined with different alternates")
	ErrTooManyTypes     = errors.New("maximum component types exceeded")
)
