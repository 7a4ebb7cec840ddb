// Package ids generates the type-prefixed identifiers used for agents,
// conversations, nodes and messages.
//
// An identifier has the form "<prefix>-<uuid>". The prefix only tells a human
// (or a request validator) what kind of entity an id belongs to; uniqueness
// comes from the random UUID.
package ids

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindAgent        Kind = "agent"
	KindConversation Kind = "conversation"
	KindNode         Kind = "node"
	KindMessage      Kind = "message"
)

const separator = "-"

var prefixes = map[Kind]string{
	KindAgent:        "a",
	KindConversation: "c",
	KindNode:         "n",
	KindMessage:      "m",
}

var ErrInvalidKind = errors.New("invalid id kind")

// InvalidKindError is returned by Generate for a kind it has no prefix for.
type InvalidKindError struct {
	Kind Kind
}

func (e *InvalidKindError) Error() string {
	if e == nil {
		return ErrInvalidKind.Error()
	}
	return fmt.Sprintf("%s: %q", ErrInvalidKind, string(e.Kind))
}

func (e *InvalidKindError) Is(target error) bool { return target == ErrInvalidKind }

// Prefix returns the short prefix for kind.
func Prefix(kind Kind) (string, bool) {
	p, ok := prefixes[kind]
	return p, ok
}

// Generate returns a new "<prefix>-<uuid>" identifier for kind.
func Generate(kind Kind) (string, error) {
	prefix, ok := prefixes[kind]
	if !ok {
		return "", &InvalidKindError{Kind: kind}
	}
	return prefix + separator + uuid.NewString(), nil
}

// MustGenerate is Generate for kinds known at compile time.
func MustGenerate(kind Kind) string {
	id, err := Generate(kind)
	if err != nil {
		panic(err)
	}
	return id
}

// ExtractUUID returns everything after the first separator. Ids without a
// separator are returned unchanged, so legacy or malformed ids pass through.
func ExtractUUID(id string) string {
	_, rest, found := strings.Cut(id, separator)
	if !found {
		return id
	}
	return rest
}

// HasPrefix reports whether id starts with "<prefix>-".
func HasPrefix(id string, prefix string) bool {
	return strings.HasPrefix(id, prefix+separator)
}

// KindOf returns the kind encoded in the prefix of id.
func KindOf(id string) (Kind, bool) {
	prefix, _, found := strings.Cut(id, separator)
	if !found {
		return "", false
	}
	for kind, p := range prefixes {
		if p == prefix {
			return kind, true
		}
	}
	return "", false
}
