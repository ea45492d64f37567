package ports

import (
	"fmt"
	"strings"

	"oidkeeper/internal/domain/models"
)

// EmptyScope represents an empty scope
type EmptyScope struct{}

// IsEmpty returns true for EmptyScope
func (EmptyScope) IsEmpty() bool {
	return true
}

// String returns a string representation of EmptyScope
func (EmptyScope) String() string {
	return "empty"
}

// OidScope restricts a query to the listed root identifiers
type OidScope struct {
	Oids []models.Oid
}

// IsEmpty returns true if OidScope is empty
func (s OidScope) IsEmpty() bool {
	return len(s.Oids) == 0
}

// String returns a string representation of OidScope
func (s OidScope) String() string {
	if s.IsEmpty() {
		return "empty"
	}

	identifiers := make([]string, 0, len(s.Oids))
	for _, id := range s.Oids {
		identifiers = append(identifiers, id.String())
	}

	return fmt.Sprintf("oids(%s)", strings.Join(identifiers, ","))
}

// PrimaryKeys returns the primary keys of the scoped identifiers of the given type
func (s OidScope) PrimaryKeys(typeTag string) []string {
	keys := make([]string, 0, len(s.Oids))
	for _, id := range s.Oids {
		if id.IsRoot() && !id.IsTransient() && id.TypeTag() == typeTag {
			keys = append(keys, id.PrimaryKey())
		}
	}
	return keys
}

// Contains reports whether oid is in scope; an empty scope contains everything
func (s OidScope) Contains(oid models.Oid) bool {
	if s.IsEmpty() {
		return true
	}
	for _, id := range s.Oids {
		if id == oid {
			return true
		}
	}
	return false
}

// NewOidScope creates a new OidScope
func NewOidScope(oids ...models.Oid) OidScope {
	return OidScope{
		Oids: oids,
	}
}

// InScope reports whether oid is selected by scope
func InScope(scope Scope, oid models.Oid) bool {
	switch s := scope.(type) {
	case nil, EmptyScope:
		return true
	case OidScope:
		return s.Contains(oid)
	default:
		return true
	}
}
