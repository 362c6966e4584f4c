package rule

import (
	"fmt"
	"sort"

	"github.com/funvibe/rulevm/internal/config"
)

// VarKind classifies what a register for the variable holds.
type VarKind int

const (
	// VarKindTable must be smallest, it leads the variable sort order.
	VarKindTable VarKind = iota
	VarKindEntity
	VarKindUnknown
)

// depthNone marks a variable whose distance from the root is not yet known.
// A subject variable still at depthNone after planning is unconstrained.
const depthNone = 0xFF

// Variable is a named slot whose value the engine determines. The same name
// can exist twice, once table-kind and once entity-kind, when a rule needs to
// iterate the entities of a matched table.
type Variable struct {
	Kind   VarKind
	Name   string
	ID     int
	Occurs int // subject occurrences, drives root election and ordering
	Depth  int // shortest dependency distance from the root
	marked bool
}

func (r *Rule) createVariable(kind VarKind, name string) *Variable {
	if name == "" {
		// Anonymous register
		name = fmt.Sprintf("_%d", len(r.vars))
	}
	v := &Variable{
		Kind:  kind,
		Name:  name,
		ID:    len(r.vars),
		Depth: depthNone,
	}
	r.vars = append(r.vars, v)
	return v
}

func (r *Rule) createAnonymousVariable(kind VarKind) *Variable {
	return r.createVariable(kind, "")
}

// findVariable returns the variable with the given name and kind.
// VarKindUnknown matches either kind; the table variant wins because table
// variables sort first.
func (r *Rule) findVariable(kind VarKind, name string) *Variable {
	for _, v := range r.vars {
		if v.Name == name && (kind == VarKindUnknown || kind == v.Kind) {
			return v
		}
	}
	return nil
}

func (r *Rule) ensureVariable(kind VarKind, name string) *Variable {
	if v := r.findVariable(kind, name); v != nil {
		if v.Kind == VarKindUnknown {
			v.Kind = kind
		}
		return v
	}
	return r.createVariable(kind, name)
}

// slotVar resolves a slot to its variable, of any kind.
func (r *Rule) slotVar(s *slot) *Variable {
	if s == nil || !s.isVar {
		return nil
	}
	return r.findVariable(VarKindUnknown, s.name)
}

func (r *Rule) termPred(i int) *Variable {
	return r.slotVar(&r.terms[i].pred)
}

func (r *Rule) termSubj(i int) *Variable {
	return r.slotVar(r.terms[i].subject())
}

func (r *Rule) termObj(i int) *Variable {
	return r.slotVar(r.terms[i].object())
}

// isSubject reports whether a variable appears as a term subject. Subject
// variables occupy the front of the variable array.
func (r *Rule) isSubject(v *Variable) bool {
	return v != nil && v.ID < r.subjectVarCount
}

// scanVariables discovers all variables and puts them in optimal dependency
// order. The order of the steps is load-bearing: subject variables must exist
// before the entity variants are ensured, and depths are only meaningful once
// a root is elected.
func (r *Rule) scanVariables() error {
	thisVar := -1
	maxOccur := 0
	maxOccurVar := -1

	// Step 1: find all possible roots. Only subjects can be elected, so the
	// predicate and object slots are not evaluated here.
	for i := range r.terms {
		if len(r.terms[i].args) > 2 {
			return r.errorf("too many arguments for term %d", i)
		}

		subj := r.terms[i].subject()
		if !subj.isVar {
			continue
		}

		v := r.findVariable(VarKindTable, subj.name)
		if v == nil {
			if len(r.vars) >= config.MaxVariableCount {
				return r.errorf("too many variables in rule")
			}
			v = r.createVariable(VarKindTable, subj.name)
		}

		v.Occurs++
		if v.Occurs > maxOccur {
			maxOccur = v.Occurs
			maxOccurVar = v.ID
		}
		if subj.name == "." {
			thisVar = v.ID
		}
	}

	r.subjectVarCount = len(r.vars)

	r.ensureAllVariables()

	// Step 2: elect a root. This (.) always takes precedence; otherwise the
	// subject variable with the most occurrences wins. A rule without subject
	// variables operates on a fixed set of entities and needs no root.
	rootID := thisVar
	if rootID == -1 {
		rootID = maxOccurVar
	}
	if rootID == -1 {
		return nil
	}

	root := r.vars[rootID]
	root.Depth = r.variableDepth(root, root)

	// Subject variables unreachable from the root are unconstrained: they
	// would force the rule to enumerate the entire store.
	for i := 0; i < r.subjectVarCount; i++ {
		if r.vars[i].Depth == depthNone {
			return r.errorf("unconstrained variable '%s'", r.vars[i].Name)
		}
	}

	// Step 3: order variables by (kind, depth, occurrences). The array leads
	// the iteration over terms during emission, so this order decides which
	// operations are inserted first.
	sort.SliceStable(r.vars, func(a, b int) bool {
		v1, v2 := r.vars[a], r.vars[b]
		if v1.Kind != v2.Kind {
			return v1.Kind < v2.Kind
		}
		if v1.Depth != v2.Depth {
			return v1.Depth < v2.Depth
		}
		return v1.Occurs > v2.Occurs
	})

	for i, v := range r.vars {
		v.ID = i
	}

	return nil
}

// ensureAllVariables registers the entity variant of every variable used as
// predicate, object, or non-This subject. This guarantees the variable array
// is complete before operations are emitted, and that the program can return
// all permutations for variables that are matched per table.
func (r *Rule) ensureAllVariables() {
	for i := range r.terms {
		t := &r.terms[i]

		if t.pred.isVar {
			r.ensureVariable(VarKindEntity, t.pred.name)
		}
		if subj := t.subject(); subj.isVar && subj.entity == 0 {
			r.ensureVariable(VarKindEntity, subj.name)
		}
		if obj := t.object(); obj != nil && obj.isVar {
			r.ensureVariable(VarKindEntity, obj.name)
		}
	}
}

// variableDepth computes the distance of var from the root by walking terms
// where var is the subject. The marked flag stops dependency cycles from
// recursing forever; cycles contribute no depth information.
func (r *Rule) variableDepth(v, root *Variable) int {
	v.marked = true

	result := depthNone
	for i := range r.terms {
		if r.termSubj(i) != v {
			continue
		}

		pred := r.termPred(i)
		obj := r.termObj(i)
		if !r.isSubject(pred) {
			pred = nil
		}
		if !r.isSubject(obj) {
			obj = nil
		}

		if d := r.depthFromTerm(v, pred, obj, root); d < result {
			result = d
		}
	}

	if result == depthNone {
		result = 0
	}
	v.Depth = result

	// Depths flow from subject to (pred, obj). Subjects related only through
	// a shared object or predicate have not been reached yet, so follow those
	// links as well.
	for i := range r.terms {
		if r.termSubj(i) != v {
			continue
		}

		r.crawlVariable(v, root)
		if pred := r.termPred(i); pred != nil && pred != v {
			r.crawlVariable(pred, root)
		}
		if obj := r.termObj(i); obj != nil && obj != v {
			r.crawlVariable(obj, root)
		}
	}

	return v.Depth
}

// depthFromTerm derives the depth of cur from one term's other variables.
// A term that references only literals pins the depth at zero.
func (r *Rule) depthFromTerm(cur, pred, obj, root *Variable) int {
	if pred == nil && obj == nil {
		return 0
	}

	result := depthNone
	if pred != nil && cur != pred {
		d := r.depthFromVar(pred, root)
		if d == depthNone {
			return depthNone
		}
		if d < result {
			result = d
		}
	}
	if obj != nil && cur != obj {
		d := r.depthFromVar(obj, root)
		if d == depthNone {
			return depthNone
		}
		if d < result {
			result = d
		}
	}
	return result
}

func (r *Rule) depthFromVar(v, root *Variable) int {
	if v == root || v.Depth != depthNone {
		return v.Depth + 1
	}

	// Already being evaluated: a cycle. Stop here.
	if v.marked {
		return 0
	}

	depth := r.variableDepth(v, root)
	if depth == depthNone {
		return depth
	}
	return depth + 1
}

// crawlVariable visits every term the variable occurs in and computes depths
// for the co-occurring variables that have none yet.
func (r *Rule) crawlVariable(v, root *Variable) {
	for i := range r.terms {
		pred := r.termPred(i)
		subj := r.termSubj(i)
		obj := r.termObj(i)

		if v != pred && v != subj && v != obj {
			continue
		}

		if pred != nil && pred != v && !pred.marked {
			r.variableDepth(pred, root)
		}
		if subj != nil && subj != v && !subj.marked {
			r.variableDepth(subj, root)
		}
		if obj != nil && obj != v && !obj.marked {
			r.variableDepth(obj, root)
		}
	}
}
