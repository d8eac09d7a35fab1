package registry

import "errors"

var (
	// ErrUnknownKind indicates a node kind outside start, condition, action and end.
	ErrUnknownKind = errors.New("unknown node kind")

	// ErrUnknownSubtype indicates a subtype that has no registered config.
	ErrUnknownSubtype = errors.New("unknown node subtype")

	// ErrInvalidConfig indicates a config payload that does not match its schema.
	ErrInvalidConfig = errors.New("invalid node config")
)
