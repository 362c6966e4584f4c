// Package rule compiles parsed query expressions into linear opcode programs
// and evaluates them with a backtracking virtual machine.
//
// An expression is a list of terms. Each term describes a predicate with up
// to two arguments. Both the predicate and the arguments can be variables.
// Terms with variables are conceptually evaluated against every possible
// value for those variables; only assignments that meet all constraints are
// yielded.
package rule

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/funvibe/rulevm/internal/ast"
	"github.com/funvibe/rulevm/internal/config"
	"github.com/funvibe/rulevm/internal/ids"
	"github.com/funvibe/rulevm/internal/parser"
	"github.com/funvibe/rulevm/internal/world"
)

const regNone = config.RegNone

// Error is a compile diagnostic carrying the offending expression.
type Error struct {
	Expr string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("error: %s: %s", e.Expr, e.Msg)
}

// slot is one resolved term position. A slot is either a literal entity or a
// variable; an identifier that does not resolve against the world's name
// registry denotes a variable.
type slot struct {
	entity ids.Id // literal id; ids.This for the implicit subject
	name   string // variable name; "." for This
	isVar  bool
}

// term is a resolved source term.
type term struct {
	pred slot
	args []slot
}

func (t *term) subject() *slot {
	return &t.args[0]
}

func (t *term) object() *slot {
	if len(t.args) > 1 {
		return &t.args[1]
	}
	return nil
}

// Rule is a compiled program plus its variable table. It is immutable after
// New returns and may be shared by any number of iterators.
type Rule struct {
	w    *world.World
	expr *ast.Expression

	terms []term
	ops   []Op
	vars  []*Variable

	subjectVarCount int
}

// New parses, plans and compiles an expression against a world.
func New(w *world.World, expr string) (*Rule, error) {
	parsed, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}

	r := &Rule{w: w, expr: parsed}
	r.resolveTerms()

	if err := r.checkSubjects(); err != nil {
		return nil, err
	}
	if err := r.scanVariables(); err != nil {
		return nil, err
	}

	r.compile()

	if len(r.vars) > config.MaxVariableCount {
		return nil, r.errorf("too many variables in rule")
	}

	w.Logger().Debug("rule compiled",
		zap.String("expr", parsed.Text),
		zap.Int("terms", len(r.terms)),
		zap.Int("variables", len(r.vars)),
		zap.Int("operations", len(r.ops)))

	return r, nil
}

// resolveTerms resolves every identifier against the world. Anonymous slots
// get a unique variable name so each "_" is independent.
func (r *Rule) resolveTerms() {
	r.terms = make([]term, len(r.expr.Terms))
	for i := range r.expr.Terms {
		src := &r.expr.Terms[i]
		dst := &r.terms[i]
		dst.pred = r.resolveIdent(src.Pred, i, 0)
		dst.args = make([]slot, len(src.Args))
		for j, arg := range src.Args {
			dst.args[j] = r.resolveIdent(arg, i, j+1)
		}
	}
}

func (r *Rule) resolveIdent(id ast.Identifier, termIndex, argIndex int) slot {
	switch {
	case id.This:
		return slot{entity: ids.This, name: ".", isVar: true}
	case id.Anon:
		return slot{name: fmt.Sprintf("_%d_%d", termIndex, argIndex), isVar: true}
	default:
		if e, ok := r.w.Lookup(id.Name); ok {
			return slot{entity: e, name: id.Name}
		}
		return slot{name: id.Name, isVar: true}
	}
}

// checkSubjects rejects literal subjects without a backing table. Such an
// entity is stored nowhere, so no operation could ever match it; surfacing
// this at compile time beats silently yielding nothing.
func (r *Rule) checkSubjects() error {
	for i := range r.terms {
		subj := r.terms[i].subject()
		if subj.isVar {
			continue
		}
		if r.w.TableOf(subj.entity) == nil {
			return r.errorf("subject '%s' has no backing table", subj.name)
		}
	}
	return nil
}

func (r *Rule) errorf(format string, args ...interface{}) error {
	return &Error{Expr: r.expr.Text, Msg: fmt.Sprintf(format, args...)}
}

// TermCount returns the number of terms in the source expression.
func (r *Rule) TermCount() int {
	return len(r.terms)
}

// VariableCount returns the number of variables, anonymous ones included.
func (r *Rule) VariableCount() int {
	return len(r.vars)
}

// FindVariable returns the id of the entity variable with the given name,
// or -1.
func (r *Rule) FindVariable(name string) int {
	if v := r.findVariable(VarKindEntity, name); v != nil {
		return v.ID
	}
	return -1
}

// VariableName returns the name of a variable.
func (r *Rule) VariableName(varID int) string {
	return r.vars[varID].Name
}

// VariableIsEntity reports whether a variable holds single entities rather
// than tables.
func (r *Rule) VariableIsEntity(varID int) bool {
	return r.vars[varID].Kind == VarKindEntity
}

// World returns the world the rule was compiled against.
func (r *Rule) World() *world.World {
	return r.w
}

// Expr returns the source expression text.
func (r *Rule) Expr() string {
	return r.expr.Text
}
