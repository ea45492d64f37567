package ports

// QuerySpec selects stored objects of one type
type QuerySpec struct {
	TypeTag string
	Scope   Scope
	// Filter is a CEL predicate over `obj` (the decoded document), `key` and `tag`
	Filter string
	// Limit caps the number of results, 0 means no limit
	Limit int
}

// FilterOption sets the CEL filter of a query
type FilterOption struct {
	Expr string
}

// LimitOption caps the number of query results
type LimitOption struct {
	Limit int
}

// ScopeOption restricts a query to a scope
type ScopeOption struct {
	Scope Scope
}

// WithFilter creates a filter option
func WithFilter(expr string) Option {
	return FilterOption{Expr: expr}
}

// WithLimit creates a limit option
func WithLimit(limit int) Option {
	return LimitOption{Limit: limit}
}

// WithScope creates a scope option
func WithScope(scope Scope) Option {
	return ScopeOption{Scope: scope}
}

// NewQuery builds a QuerySpec for typeTag from options
func NewQuery(typeTag string, opts ...Option) QuerySpec {
	spec := QuerySpec{
		TypeTag: typeTag,
		Scope:   EmptyScope{},
	}
	for _, opt := range opts {
		switch o := opt.(type) {
		case FilterOption:
			spec.Filter = o.Expr
		case LimitOption:
			spec.Limit = o.Limit
		case ScopeOption:
			if o.Scope != nil {
				spec.Scope = o.Scope
			}
		}
	}
	return spec
}
