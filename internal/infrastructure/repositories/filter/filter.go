package filter

import (
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
	"k8s.io/utils/lru"
)

// ErrInvalidFilter is returned for expressions that do not compile to a boolean predicate
var ErrInvalidFilter = errors.New("invalid filter")

const defaultCacheSize = 128

// Predicate is a compiled filter expression
type Predicate struct {
	expr    string
	program cel.Program
}

// Expr returns the source expression
func (p *Predicate) Expr() string {
	return p.expr
}

// Match evaluates the predicate against a stored document
func (p *Predicate) Match(doc map[string]any, key, tag string) (bool, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	out, _, err := p.program.Eval(map[string]any{
		"obj": doc,
		"key": key,
		"tag": tag,
	})
	if err != nil {
		if isMissingField(err) {
			return false, nil
		}
		return false, errors.Wrapf(ErrInvalidFilter, "'%s': %v", p.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, errors.Wrapf(ErrInvalidFilter, "'%s' evaluated to %T", p.expr, out.Value())
	}
	return b, nil
}

// isMissingField reports a lookup of a field the document does not have; cel-go has no typed error for it
func isMissingField(err error) bool {
	return strings.Contains(err.Error(), "no such key")
}

// Compiler compiles filter expressions over `obj`, `key` and `tag` and caches the programs
type Compiler struct {
	once  sync.Once
	env   *cel.Env
	err   error
	cache *lru.Cache
}

// NewCompiler creates a compiler with a program cache
func NewCompiler() *Compiler {
	return &Compiler{cache: lru.New(defaultCacheSize)}
}

func (c *Compiler) environment() (*cel.Env, error) {
	c.once.Do(func() {
		c.env, c.err = cel.NewEnv(
			cel.Variable("obj", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("key", cel.StringType),
			cel.Variable("tag", cel.StringType),
			cel.CrossTypeNumericComparisons(true),
		)
	})
	return c.env, c.err
}

// Compile returns the predicate of expr; an empty expression yields nil (match all)
func (c *Compiler) Compile(expr string) (*Predicate, error) {
	if expr == "" {
		return nil, nil
	}
	if cached, ok := c.cache.Get(expr); ok {
		return cached.(*Predicate), nil
	}

	env, err := c.environment()
	if err != nil {
		return nil, errors.Wrap(err, "create CEL environment")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(ErrInvalidFilter, "'%s': %v", expr, issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, errors.Wrapf(ErrInvalidFilter, "'%s' is of type %s, not bool", expr, t)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidFilter, "'%s': %v", expr, err)
	}

	p := &Predicate{expr: expr, program: prg}
	c.cache.Add(expr, p)
	return p, nil
}

// Matches reports whether the document passes p; a nil predicate matches everything
func Matches(p *Predicate, doc map[string]any, key, tag string) (bool, error) {
	if p == nil {
		return true, nil
	}
	return p.Match(doc, key, tag)
}
