package rule

import "github.com/funvibe/rulevm/internal/ids"

// filter is the run-time, variable-substituted form of a Pair. Filters are
// created ad-hoc from pairs and take into account every variable that has
// been reified so far.
type filter struct {
	mask ids.Id // pair mask with wildcards in place of unresolved variables

	// AND/compare masks so (id & exprMask) == exprMatch iff id matches.
	// Role bits always participate; wildcard halves become don't-cares.
	exprMask  ids.Id
	exprMatch ids.Id

	wildcard     bool // filter contains wildcards
	predWildcard bool
	objWildcard  bool
	sameVar      bool // pred and obj are the same variable

	loVar int // variable to reify from the low half, -1 if none
	hiVar int // variable to reify from the high half, -1 if none
}

func (f *filter) setExprMask(mask ids.Id) {
	lo := ids.Lo(mask)
	hi := ids.Hi(mask)

	// Roles must match between the expression and the candidate id.
	f.exprMask = ids.Roles(mask)
	f.exprMatch = ids.Roles(mask)

	if lo != ids.Wildcard {
		f.exprMask |= 0xFFFFFFFF
		f.exprMatch |= lo
	}
	if hi != ids.Wildcard {
		f.exprMask |= ids.Id(0xFFFFFFFF) << 32
		f.exprMatch |= hi << 32
	}
}

// pairToFilter translates a pair back into an id mask, substituting the
// variables that have been filled out. Registers are read from the previous
// frame, since the current operation has not reified its variables yet.
func (it *Iter) pairToFilter(opIndex int, pair Pair) filter {
	pred := pair.Pred
	obj := pair.Obj
	f := filter{loVar: -1, hiVar: -1}

	regs := it.registers(it.opCtx[opIndex].lastOp)

	if pair.RegMask&pairObj != 0 {
		obj = it.entityRegGet(regs, int(pair.Obj))
		if obj == ids.Wildcard {
			f.wildcard = true
			f.objWildcard = true
			f.loVar = int(pair.Obj)
		}
	}

	if pair.RegMask&pairPred != 0 {
		pred = it.entityRegGet(regs, int(pair.Pred))
		if pred == ids.Wildcard {
			if f.wildcard {
				f.sameVar = pair.Pred == pair.Obj
			}
			f.wildcard = true
			f.predWildcard = true

			if obj != 0 {
				f.hiVar = int(pair.Pred)
			} else {
				f.loVar = int(pair.Pred)
			}
		}
	}

	if obj == 0 {
		f.mask = pred
	} else {
		f.mask = ids.Pair(pred, obj)
	}

	if f.wildcard {
		f.setExprMask(f.mask)
	}

	return f
}

// reifyVariables fills out the filter's variables from the matched id. A
// variable that is still unknown leaves a wildcard in the pair, which is
// harmless as its register also holds a wildcard.
func (it *Iter) reifyVariables(opIndex int, f *filter, typ []ids.Id, column int) {
	regs := it.registers(opIndex)
	elem := typ[column]

	if f.loVar != -1 {
		it.entityRegSet(regs, f.loVar, ids.Lo(elem))
	}
	if f.hiVar != -1 {
		it.entityRegSet(regs, f.hiVar, ids.Hi(elem))
	}
}

// findNextMatch scans a type starting at column and returns the first
// element matching the filter, or -1.
func findNextMatch(typ []ids.Id, column int, f *filter) int {
	count := len(typ)

	// If the predicate is not a wildcard, a scan from a non-zero column checks
	// only the element at column: ids in a type are sorted and the predicate
	// occupies the most significant bits, so matching ids are adjacent and a
	// run of matches is walked one call at a time.
	if !f.predWildcard {
		if column != 0 && column < count {
			count = column + 1
		}
	}

	for i := column; i < count; i++ {
		if typ[i]&f.exprMask != f.exprMatch {
			continue
		}
		if f.sameVar && ids.Lo(typ[i]) != ids.Hi(typ[i]) {
			// The pair names the same variable twice; halves must agree.
			continue
		}
		return i
	}

	return -1
}
