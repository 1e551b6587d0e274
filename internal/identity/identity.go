// Package identity derives stable 128-bit node identifiers for artists and tags.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NodeID identifies a graph node (artist or tag)
type NodeID = uuid.UUID

// Nil is the zero NodeID
var Nil = uuid.Nil

// ErrUnresolvable is returned when neither a native id nor a URL is available
var ErrUnresolvable = errors.New("artist has neither a native id nor a url")

// tagNamespace scopes tag ids so they never collide with URL-derived artist ids
var tagNamespace = uuid.MustParse("6f1d3b7e-2c4a-5e8f-9a0b-7c3d2e1f4a5b")

// urlDerivedVersion is the UUID version produced by uuid.NewSHA1
const urlDerivedVersion = 5

// Resolve returns the native id when it is a valid UUID, otherwise a
// deterministic id hashed from the canonical URL
func Resolve(nativeID, canonicalURL string) (NodeID, error) {
	if id := strings.TrimSpace(nativeID); id != "" {
		if parsed, err := uuid.Parse(id); err == nil {
			return parsed, nil
		}
	}

	if u := strings.TrimSpace(canonicalURL); u != "" {
		return FromURL(u), nil
	}

	return Nil, ErrUnresolvable
}

// FromURL hashes a canonical URL into a version 5 id
func FromURL(canonicalURL string) NodeID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(canonicalURL))
}

// ForTag returns the node id of a tag
func ForTag(name string) NodeID {
	return uuid.NewSHA1(tagNamespace, []byte(strings.ToLower(strings.TrimSpace(name))))
}

// IsNative reports whether id came from the upstream service and can be
// queried by id. URL-derived and tag ids must be queried by name.
func IsNative(id NodeID) bool {
	return id.Version() != urlDerivedVersion
}

// Parse decodes the canonical string form of a NodeID
func Parse(s string) (NodeID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return id, nil
}

// FromBytes decodes a 16-byte binary id
func FromBytes(b []byte) (NodeID, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return Nil, fmt.Errorf("invalid node id bytes: %w", err)
	}
	return id, nil
}

// Less orders ids by their byte representation
func Less(a, b NodeID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
