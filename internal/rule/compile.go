package rule

import (
	"github.com/funvibe/rulevm/internal/config"
	"github.com/funvibe/rulevm/internal/ids"
)

// createOp appends a fresh operation and returns its index. Operations are
// addressed by index, never by pointer, since the slice may still grow.
func (r *Rule) createOp() int {
	r.ops = append(r.ops, Op{Column: -1})
	return len(r.ops) - 1
}

// encodePair encodes a term's type into a pair. A pair extracts the ids from
// the term and replaces variables with their register indices, so that an
// operation can filter with it and reify the variables on a match.
func (r *Rule) encodePair(i int) Pair {
	t := &r.terms[i]
	var result Pair

	if t.pred.isVar {
		// Pairs always refer to entities, never tables.
		v := r.findVariable(VarKindEntity, t.pred.name)
		result.Pred = ids.Id(v.ID)
		result.RegMask |= pairPred
		result.Final = true
	} else {
		result.Pred = t.pred.entity

		// A transitive predicate only matters when there is an object to
		// chain through.
		if len(t.args) == 2 && r.w.HasRole(t.pred.entity, ids.Transitive) {
			result.Transitive = true
		}
		if r.w.HasRole(t.pred.entity, ids.Final) {
			result.Final = true
		}
	}

	obj := t.object()
	if obj == nil {
		return result
	}

	if obj.isVar {
		v := r.findVariable(VarKindEntity, obj.name)
		result.Obj = ids.Id(v.ID)
		result.RegMask |= pairObj
	} else {
		result.Obj = obj.entity
	}

	return result
}

// toEntity returns the entity variant of a variable, if one exists.
func (r *Rule) toEntity(v *Variable) *Variable {
	if v == nil {
		return nil
	}
	if v.Kind == VarKindTable {
		return r.findVariable(VarKindEntity, v.Name)
	}
	return v
}

// mostSpecificVar returns the most specific written form of a variable. When
// the table variant is written but the entity variant is not, an Each
// operation is emitted that forwards each entity of the table.
func (r *Rule) mostSpecificVar(v *Variable, written []bool) *Variable {
	if v == nil {
		return nil
	}

	evar := r.toEntity(v)
	if evar == nil {
		return v
	}

	var tvar *Variable
	if v.Kind == VarKindTable {
		tvar = v
	} else {
		tvar = r.findVariable(VarKindTable, v.Name)
	}

	// Table variables usually resolve before they are used as a predicate or
	// object, but cyclic dependencies can break that. Only forward the table
	// if it has actually been written.
	if tvar != nil && written[tvar.ID] {
		if !written[evar.ID] {
			idx := r.createOp()
			op := &r.ops[idx]
			op.Kind = OpEach
			op.OnPass = len(r.ops)
			op.OnFail = len(r.ops) - 2
			op.HasIn = true
			op.HasOut = true
			op.RIn = tvar.ID
			op.ROut = evar.ID
			written[evar.ID] = true
		}
		return evar
	}
	if written[evar.ID] {
		return evar
	}

	return v
}

// ensureEntityWritten promotes a variable to a written entity variable.
func (r *Rule) ensureEntityWritten(v *Variable, written []bool) *Variable {
	if v == nil {
		return nil
	}
	return r.mostSpecificVar(v, written)
}

func isKnown(v *Variable, written []bool) bool {
	if v == nil {
		return true
	}
	return written[v.ID]
}

// insertOperation appends an operation for a source term. Encoding the pair
// may first emit Each operations to promote the pair's variables to their
// most specific written form.
func (r *Rule) insertOperation(columnIndex int, written []bool) int {
	var pair Pair

	if columnIndex != -1 {
		pair = r.encodePair(columnIndex)

		// An operation must never overwrite an entity variable whose table
		// variable is already resolved; promote such pairs up front.
		if pair.RegMask&pairPred != 0 {
			pred := r.mostSpecificVar(r.vars[int(pair.Pred)], written)
			pair.Pred = ids.Id(pred.ID)
		}
		if pair.RegMask&pairObj != 0 {
			obj := r.mostSpecificVar(r.vars[int(pair.Obj)], written)
			pair.Obj = ids.Id(obj.ID)
		}
	}

	idx := r.createOp()
	op := &r.ops[idx]
	op.OnPass = len(r.ops)
	op.OnFail = len(r.ops) - 2
	op.Param = pair
	op.Column = columnIndex
	return idx
}

// insertInput emits the program prologue. The first evaluation falls through
// to the next operation; a redo fails with target -1, which terminates the
// program.
func (r *Rule) insertInput() {
	idx := r.createOp()
	op := &r.ops[idx]
	op.Kind = OpInput
	op.OnPass = 1
	op.OnFail = -1
}

// insertYield emits the program epilogue. Yield returns the most specific
// form of the This variable: entity if the program iterates entities,
// otherwise the table. A rule without This yields plain success, even when
// another subject variable was elected root; such a rule publishes no
// entities, only its variables.
func (r *Rule) insertYield() {
	idx := r.createOp()
	op := &r.ops[idx]
	op.Kind = OpYield
	op.HasIn = true
	op.OnFail = len(r.ops) - 2

	v := r.findVariable(VarKindEntity, ".")
	if v == nil {
		v = r.findVariable(VarKindTable, ".")
	}
	if v == nil {
		op.RIn = regNone
	} else {
		op.RIn = v.ID
	}
}

func setInputToSubj(op *Op, subjSlot *slot, v *Variable) {
	op.HasIn = true
	if v == nil {
		op.RIn = regNone
		op.Subject = subjSlot.entity
	} else {
		op.RIn = v.ID
	}
}

func setOutputToSubj(op *Op, subjSlot *slot, v *Variable) {
	op.HasOut = true
	if v == nil {
		op.ROut = regNone
		op.Subject = subjSlot.entity
	} else {
		op.ROut = v.ID
	}
}

// insertSelectOrWith decides between Select and With for a term: a written
// subject only needs its table checked, an unwritten one enumerates the
// filter's table set and binds the subject.
func (r *Rule) insertSelectOrWith(idx int, termIndex int, subj *Variable, written []bool) {
	op := &r.ops[idx]
	subjSlot := r.terms[termIndex].subject()

	var tvar *Variable
	evar := r.toEntity(subj)
	if subj != nil && subj.Kind == VarKindTable {
		tvar = subj
	}

	switch {
	case evar != nil && isKnown(evar, written):
		op.Kind = OpWith
		op.RIn = evar.ID
		setInputToSubj(op, subjSlot, subj)

	case tvar != nil && isKnown(tvar, written):
		op.Kind = OpWith
		op.RIn = tvar.ID
		setInputToSubj(op, subjSlot, subj)

	case tvar == nil && evar == nil:
		// Literal subject
		op.Kind = OpWith
		setInputToSubj(op, subjSlot, subj)

	default:
		op.Kind = OpSelect
		setOutputToSubj(op, subjSlot, subj)
		written[subj.ID] = true
	}

	if op.Param.RegMask&pairPred != 0 {
		written[int(op.Param.Pred)] = true
	}
	if op.Param.RegMask&pairObj != 0 {
		written[int(op.Param.Obj)] = true
	}
}

// insertInclusiveSet emits the four-operation block that yields the root of
// a sub- or supertree followed by the tree itself:
//
//	SetJmp   first entry runs Store, a redo diverts to the set operation
//	Store    yields the root itself, then fails back to SetJmp
//	Sub/SuperSet  enumerates the tree excluding the root
//	Jump     transfers to the label stored by SetJmp
func (r *Rule) insertInclusiveSet(opKind OpKind, out *Variable, param Pair, root *Variable, rootEntity ids.Id, c int, written []bool) {
	setjmpLbl := len(r.ops)
	storeLbl := setjmpLbl + 1
	setLbl := setjmpLbl + 2
	nextOp := setjmpLbl + 4
	prevOp := setjmpLbl - 1

	r.insertOperation(-1, written)
	r.insertOperation(-1, written)
	r.insertOperation(-1, written)
	r.insertOperation(-1, written)

	setjmp := &r.ops[setjmpLbl]
	store := &r.ops[storeLbl]
	set := &r.ops[setLbl]
	jump := &r.ops[setjmpLbl+3]

	setjmp.Kind = OpSetJmp
	setjmp.OnPass = storeLbl
	setjmp.OnFail = setLbl

	store.Kind = OpStore
	store.Param.Pred = param.Pred
	store.OnPass = nextOp
	store.OnFail = setjmpLbl
	store.HasIn = true
	store.HasOut = true
	store.ROut = out.ID
	store.Column = c

	// Store the literal when the root of the tree is not a variable.
	if root == nil {
		store.RIn = regNone
		store.Subject = rootEntity
		store.Param.Obj = rootEntity
	} else {
		store.RIn = root.ID
		store.Param.Obj = ids.Id(root.ID)
		store.Param.RegMask = pairObj
	}

	set.Kind = opKind
	set.Param.Pred = param.Pred
	set.OnPass = nextOp
	set.OnFail = prevOp
	set.HasOut = true
	set.ROut = out.ID
	set.Column = c

	if root == nil {
		set.Param.Obj = rootEntity
	} else {
		set.Param.Obj = ids.Id(root.ID)
		set.Param.RegMask = pairObj
	}

	// The jump's own labels are unused; OnPass names the SetJmp operation
	// whose context holds the label to transfer to.
	jump.Kind = OpJump
	jump.OnPass = setjmpLbl
	jump.OnFail = -1

	written[out.ID] = true
}

// storeInclusiveSet creates the output variable for an inclusive set and
// emits the block. Subsets produce tables, supersets produce entities; a
// table-valued output also gets an entity twin so the result can always be
// returned as an entity.
func (r *Rule) storeInclusiveSet(opKind OpKind, param Pair, root *Variable, rootEntity ids.Id, written []bool) *Variable {
	varKind := VarKindTable
	if opKind == OpSuperSet {
		varKind = VarKindEntity
	}

	av := r.createAnonymousVariable(varKind)
	if varKind == VarKindTable {
		r.createVariable(VarKindEntity, av.Name)
	}

	root = r.mostSpecificVar(root, written)

	r.insertInclusiveSet(opKind, av, param, root, rootEntity, -1, written)

	return r.ensureEntityWritten(av, written)
}

// insertNonfinalSelectOrWith handles predicates that have subtypes: an
// anonymous variable enumerates the predicate's subtree over IsA, and the
// term is then matched with the variable in the predicate slot.
func (r *Rule) insertNonfinalSelectOrWith(termIndex int, param Pair, subj *Variable, written []bool) {
	predParam := Pair{Pred: ids.IsA, Obj: param.Pred}
	predSubsets := r.storeInclusiveSet(OpSubSet, predParam, nil, param.Pred, written)

	// Make sure to use the most specific version of the object.
	if param.RegMask&pairObj != 0 {
		r.mostSpecificVar(r.vars[int(param.Obj)], written)
	}

	idx := r.insertOperation(-1, written)
	op := &r.ops[idx]
	op.Param.Pred = ids.Id(predSubsets.ID)
	op.Param.Obj = param.Obj
	op.Param.RegMask = param.RegMask | pairPred
	op.Column = termIndex

	r.insertSelectOrWith(idx, termIndex, subj, written)
}

// insertTerm2 emits the operations for a two-argument term.
func (r *Rule) insertTerm2(i int, written []bool) {
	t := &r.terms[i]
	pred := r.termPred(i)
	subj := r.termSubj(i)
	obj := r.termObj(i)
	param := r.encodePair(i)

	subj = r.mostSpecificVar(subj, written)

	switch {
	case pred != nil || (param.Final && !param.Transitive):
		idx := r.insertOperation(i, written)
		r.insertSelectOrWith(idx, i, subj, written)

	case !param.Final:
		r.insertNonfinalSelectOrWith(i, param, subj, written)

	case param.Transitive:
		if isKnown(subj, written) {
			if isKnown(obj, written) {
				// Subject and object are both fixed: the term holds when the
				// subject carries the predicate for any subset of the object.
				objSubsets := r.storeInclusiveSet(OpSubSet, param, obj, t.object().entity, written)

				if subj != nil && subj.Kind == VarKindTable {
					subj = r.mostSpecificVar(subj, written)
				}

				idx := r.insertOperation(i, written)
				op := &r.ops[idx]
				op.Kind = OpWith
				setInputToSubj(op, t.subject(), subj)
				op.Param.Obj = ids.Id(objSubsets.ID)
				op.Param.RegMask = pairObj
			} else {
				// Subject fixed, object free: walk the ancestor chain,
				// starting with the subject itself.
				obj = r.toEntity(obj)
				r.insertInclusiveSet(OpSuperSet, obj, param, subj, t.subject().entity, i, written)
			}
		} else {
			if isKnown(obj, written) {
				// The object is known, though not necessarily as an entity;
				// the set block needs the entity form populated.
				obj = r.mostSpecificVar(obj, written)
				r.insertInclusiveSet(OpSubSet, subj, param, obj, objEntityOf(t), i, written)
			} else {
				// Neither side is fixed. Select every (subject, object)
				// carrier of the predicate and expand the object upward.
				//
				// The expansion is not truly inclusive for anonymous
				// subjects: it never yields the (x, x) reflexive pair, since
				// that would require finding all subjects with the predicate
				// without expanding the relationships themselves.
				av := r.createAnonymousVariable(VarKindEntity)

				idx := r.insertOperation(-1, written)
				op := &r.ops[idx]
				op.Kind = OpSelect
				setOutputToSubj(op, t.subject(), subj)
				op.Param.Pred = param.Pred
				op.Param.Obj = ids.Id(av.ID)
				op.Param.RegMask = param.RegMask | pairObj

				written[subj.ID] = true
				written[av.ID] = true

				if evar := r.toEntity(obj); evar != nil {
					obj = evar
				}
				r.insertInclusiveSet(OpSuperSet, obj, r.ops[idx].Param, av, 0, i, written)
			}
		}
	}
}

// insertTerm1 emits the operations for a single-argument term.
func (r *Rule) insertTerm1(i int, written []bool) {
	pred := r.termPred(i)
	subj := r.termSubj(i)
	param := r.encodePair(i)

	subj = r.mostSpecificVar(subj, written)

	if pred != nil || param.Final {
		idx := r.insertOperation(i, written)
		r.insertSelectOrWith(idx, i, subj, written)
	} else {
		r.insertNonfinalSelectOrWith(i, param, subj, written)
	}
}

func (r *Rule) insertTerm(i int, written []bool) {
	if len(r.terms[i].args) == 1 {
		r.insertTerm1(i, written)
	} else {
		r.insertTerm2(i, written)
	}
}

func objEntityOf(t *term) ids.Id {
	if obj := t.object(); obj != nil {
		return obj.entity
	}
	return 0
}

// compile emits the full program for the planned rule.
func (r *Rule) compile() {
	// Emission can add anonymous variables beyond the declared ones, so the
	// written set is sized with headroom for them.
	size := config.MaxVariableCount + 3*len(r.terms) + len(r.vars)
	written := make([]bool, size)

	r.insertInput()

	// Terms with a literal subject first: they iterate a single entity's
	// type and narrow the search cheaply.
	for i := range r.terms {
		if r.termSubj(i) != nil {
			continue
		}
		r.insertTerm(i, written)
	}

	// Then every term grouped by subject variable, in dependency order.
	for v := 0; v < r.subjectVarCount; v++ {
		for i := range r.terms {
			if r.termSubj(i) != r.vars[v] {
				continue
			}
			r.insertTerm(i, written)
		}
	}

	// Entity variables that are only constrained through a shared predicate
	// or object have not been written yet; forward their tables entity by
	// entity so every permutation is returned.
	for v := r.subjectVarCount; v < len(r.vars); v++ {
		if written[v] {
			continue
		}
		cur := r.vars[v]
		if cur.Kind != VarKindEntity {
			continue
		}

		tableVar := r.findVariable(VarKindTable, cur.Name)
		if tableVar == nil {
			continue
		}

		idx := r.insertOperation(-1, written)
		op := &r.ops[idx]
		op.Kind = OpEach
		op.RIn = tableVar.ID
		op.ROut = cur.ID
		op.HasIn = true
		op.HasOut = true
		written[cur.ID] = true
	}

	r.insertYield()
}
