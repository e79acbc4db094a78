package core

import "github.com/google/uuid"

// IdentifierAcquireNew returns a unique identifier for a renderer-owned
// or borrowed object. Used purely for identity and debug logging; the
// identifier carries no lifetime semantics.
func IdentifierAcquireNew() string {
	return uuid.NewString()
}
