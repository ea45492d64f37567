package models

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Separators of the rendered identifier form:
//
//	Type:Key          root identifier
//	Type:!token       transient root identifier
//	<parent>~local    aggregated identifier
//
// Components are percent-escaped for '%', ':', '~' and '!' so any string round-trips.
const (
	rootSeparator       = ":"
	aggregatedSeparator = "~"
	transientMarker     = "!"
)

var componentEscaper = strings.NewReplacer(
	"%", "%25",
	":", "%3A",
	"~", "%7E",
	"!", "%21",
)

// Oid is the identifier of a domain object. It is a comparable value, so it can be used as a map key.
type Oid struct {
	typeTag    string
	primaryKey string
	transient  bool
	parent     string
	localKey   string
}

// NewTransientOid returns a transient root identifier carrying a locally unique token
func NewTransientOid(typeTag string) Oid {
	return Oid{
		typeTag:    typeTag,
		primaryKey: uuid.NewString(),
		transient:  true,
	}
}

// NewRootOid returns a persistent root identifier
func NewRootOid(typeTag, primaryKey string) Oid {
	return Oid{
		typeTag:    typeTag,
		primaryKey: primaryKey,
	}
}

// NewAggregatedOid returns the identifier of a part addressed relative to parent
func NewAggregatedOid(parent Oid, localKey string) Oid {
	return Oid{
		parent:   parent.String(),
		localKey: localKey,
	}
}

// PromoteOid replaces a transient root identifier with its durable counterpart
func PromoteOid(transient Oid, primaryKey string) (Oid, error) {
	if transient.IsAggregated() {
		return Oid{}, &NotPersistableError{Oid: transient, Reason: "aggregated identifiers are promoted with their root"}
	}
	if !transient.transient {
		return Oid{}, &NotPersistableError{Oid: transient, Reason: "identifier is already persistent"}
	}
	if primaryKey == "" {
		return Oid{}, &NotPersistableError{Oid: transient, Reason: "empty primary key"}
	}
	return NewRootOid(transient.typeTag, primaryKey), nil
}

// ParseOid parses the rendered form produced by String
func ParseOid(s string) (Oid, error) {
	if s == "" {
		return Oid{}, &MalformedIdentifierError{Input: s, Reason: "empty input"}
	}
	if i := strings.LastIndex(s, aggregatedSeparator); i >= 0 {
		parent, err := ParseOid(s[:i])
		if err != nil {
			return Oid{}, &MalformedIdentifierError{Input: s, Reason: "bad parent: " + err.Error()}
		}
		local, err := unescapeComponent(s[i+1:])
		if err != nil || local == "" {
			return Oid{}, &MalformedIdentifierError{Input: s, Reason: "bad local key"}
		}
		return NewAggregatedOid(parent, local), nil
	}

	i := strings.Index(s, rootSeparator)
	if i < 0 {
		return Oid{}, &MalformedIdentifierError{Input: s, Reason: "missing type separator"}
	}
	typeTag, err := unescapeComponent(s[:i])
	if err != nil || typeTag == "" {
		return Oid{}, &MalformedIdentifierError{Input: s, Reason: "bad type tag"}
	}
	rest := s[i+1:]
	transient := strings.HasPrefix(rest, transientMarker)
	if transient {
		rest = rest[len(transientMarker):]
	}
	key, err := unescapeComponent(rest)
	if err != nil || key == "" {
		return Oid{}, &MalformedIdentifierError{Input: s, Reason: "bad primary key"}
	}
	return Oid{typeTag: typeTag, primaryKey: key, transient: transient}, nil
}

// String renders the identifier; ParseOid(o.String()) == o
func (o Oid) String() string {
	if o.IsZero() {
		return ""
	}
	if o.IsAggregated() {
		return o.parent + aggregatedSeparator + componentEscaper.Replace(o.localKey)
	}
	var b strings.Builder
	b.WriteString(componentEscaper.Replace(o.typeTag))
	b.WriteString(rootSeparator)
	if o.transient {
		b.WriteString(transientMarker)
	}
	b.WriteString(componentEscaper.Replace(o.primaryKey))
	return b.String()
}

// Validate fails with MalformedIdentifierError when o does not survive a String/ParseOid round trip,
// e.g. a root built with an empty type tag or key
func (o Oid) Validate() error {
	if o.IsZero() {
		return &MalformedIdentifierError{Reason: "empty identifier"}
	}
	s := o.String()
	parsed, err := ParseOid(s)
	if err != nil {
		return err
	}
	if parsed != o {
		return &MalformedIdentifierError{Input: s, Reason: "identifier does not round-trip"}
	}
	return nil
}

// Render is an alias of String
func (o Oid) Render() string {
	return o.String()
}

// IsZero reports whether o is the zero identifier
func (o Oid) IsZero() bool {
	return o == Oid{}
}

// IsAggregated reports whether o addresses a part of another object
func (o Oid) IsAggregated() bool {
	return o.parent != ""
}

// IsRoot reports whether o is a top level identifier
func (o Oid) IsRoot() bool {
	return !o.IsZero() && !o.IsAggregated()
}

// IsTransient reports whether o (or, for an aggregated identifier, its root) has no durable key yet
func (o Oid) IsTransient() bool {
	if o.IsAggregated() {
		return o.Root().transient
	}
	return o.transient
}

// TypeTag returns the type tag of the root identifier
func (o Oid) TypeTag() string {
	if o.IsAggregated() {
		return o.Root().typeTag
	}
	return o.typeTag
}

// PrimaryKey returns the durable key of a root identifier, empty for transient and aggregated ones
func (o Oid) PrimaryKey() string {
	if o.transient || o.IsAggregated() {
		return ""
	}
	return o.primaryKey
}

// LocalKey returns the key of an aggregated identifier relative to its parent
func (o Oid) LocalKey() string {
	return o.localKey
}

// Parent returns the parent of an aggregated identifier
func (o Oid) Parent() (Oid, bool) {
	if !o.IsAggregated() {
		return Oid{}, false
	}
	// parent was rendered from a valid Oid
	p, err := ParseOid(o.parent)
	if err != nil {
		return Oid{}, false
	}
	return p, true
}

// Root returns the root ancestor, o itself for root identifiers
func (o Oid) Root() Oid {
	cur := o
	for cur.IsAggregated() {
		p, ok := cur.Parent()
		if !ok {
			return cur
		}
		cur = p
	}
	return cur
}

// Rebase returns o with its ancestor from re-rooted onto to.
// ok is false when from is not an ancestor of o.
func (o Oid) Rebase(from, to Oid) (Oid, bool) {
	if !o.IsAggregated() {
		return Oid{}, false
	}
	p, _ := o.Parent()
	if p == from {
		return NewAggregatedOid(to, o.localKey), true
	}
	np, ok := p.Rebase(from, to)
	if !ok {
		return Oid{}, false
	}
	return NewAggregatedOid(np, o.localKey), true
}

// IsDescendantOf reports whether ancestor appears in o's parent chain
func (o Oid) IsDescendantOf(ancestor Oid) bool {
	for cur := o; cur.IsAggregated(); {
		p, _ := cur.Parent()
		if p == ancestor {
			return true
		}
		cur = p
	}
	return false
}

func unescapeComponent(s string) (string, error) {
	return url.PathUnescape(s)
}
