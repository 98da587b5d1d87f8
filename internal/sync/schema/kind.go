package schema

import (
	"fmt"
	"strings"
)

// Kind names one of the synchronized entity collections.
type Kind string

const (
	KindTask    Kind = "task"
	KindProject Kind = "project"
	KindContact Kind = "contact"
)

// Kinds lists every synchronized collection in a stable order.
var Kinds = []Kind{KindTask, KindProject, KindContact}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTask, KindProject, KindContact:
		return true
	}
	return false
}

// CacheKey returns the fixed Local Cache key holding the collection.
func (k Kind) CacheKey() string {
	return "flowsync." + k.Collection()
}

// Collection returns the remote collection name for the kind.
func (k Kind) Collection() string {
	return string(k) + "s"
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind accepts a kind name in singular or plural form.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalid, s)
	}
	return k, nil
}
