package rule

import (
	"fmt"

	"github.com/funvibe/rulevm/internal/config"
	"github.com/funvibe/rulevm/internal/ids"
	"github.com/funvibe/rulevm/internal/world"
)

// tableReg is the table-valued payload of a register. A zero count means the
// whole table; otherwise the register addresses count rows from offset.
type tableReg struct {
	table  *world.Table
	offset int
	count  int
}

// reg holds a variable's value during execution: an entity id or a table
// slice, depending on the variable's kind.
type reg struct {
	entity ids.Id
	table  tableReg
}

// withCtx is the per-iteration state of Select and With. column tracks the
// scan position for operations that have no source term.
type withCtx struct {
	tableSet   *world.TableSet
	tableIndex int
	column     int
}

type subsetFrame struct {
	with   withCtx
	table  *world.Table
	row    int
	column int
}

type subsetCtx struct {
	storage [config.SetStackDepth]subsetFrame
	stack   []subsetFrame
	sp      int
}

type supersetFrame struct {
	table  *world.Table
	column int
}

type supersetCtx struct {
	storage  [config.SetStackDepth]supersetFrame
	stack    []supersetFrame
	tableSet *world.TableSet
	sp       int
}

type eachCtx struct {
	row int
}

type setjmpCtx struct {
	label int
}

// opCtx is the per-operation, per-iterator state for stateful operations.
type opCtx struct {
	with     withCtx
	subset   subsetCtx
	superset supersetCtx
	each     eachCtx
	setjmp   setjmpCtx

	// lastOp is the last non-control-flow operation that ran before this
	// one; its frame holds the inputs this operation was given.
	lastOp int
}

// Iter evaluates a compiled rule. Iterators own their state exclusively;
// multiple iterators over the same rule are independent.
type Iter struct {
	rule *Rule

	regs  []reg // op frames, rowLen = len(rule.vars)
	cols  []int // op frames, rowLen = len(rule.terms)
	opCtx []opCtx

	op   int
	redo bool
	done bool

	// Published on Yield:

	// Entities is the matched table slice, starting at Offset.
	Entities []ids.Id
	// Count is the number of matched entities; zero for rules without a
	// This variable, such as pure fact checks.
	Count  int
	Offset int

	table   *world.Table
	termIDs []ids.Id
	columns []int
}

// Iter allocates per-program state for one evaluation of the rule.
func (r *Rule) Iter() *Iter {
	opCount := len(r.ops)
	varCount := len(r.vars)

	it := &Iter{
		rule:    r,
		regs:    make([]reg, opCount*varCount),
		cols:    make([]int, opCount*len(r.terms)),
		opCtx:   make([]opCtx, opCount),
		termIDs: make([]ids.Id, len(r.terms)),
	}

	// The first frame starts with every entity register at wildcard.
	regs := it.registers(0)
	for i, v := range r.vars {
		if v.Kind == VarKindEntity {
			regs[i].entity = ids.Wildcard
		}
	}

	return it
}

func (it *Iter) registers(op int) []reg {
	n := len(it.rule.vars)
	return it.regs[op*n : (op+1)*n]
}

func (it *Iter) opColumns(op int) []int {
	n := len(it.rule.terms)
	return it.cols[op*n : (op+1)*n]
}

func (it *Iter) entityRegGet(regs []reg, r int) ids.Id {
	return regs[r].entity
}

func (it *Iter) entityRegSet(regs []reg, r int, e ids.Id) {
	regs[r].entity = e
}

func (it *Iter) tableRegGet(regs []reg, r int) *world.Table {
	return regs[r].table.table
}

func (it *Iter) tableRegSet(regs []reg, r int, t *world.Table) {
	regs[r].table = tableReg{table: t}
}

// regGetEntity reads an entity from a register, the operation's constant
// subject, or the addressed row of a table register.
func (it *Iter) regGetEntity(op *Op, regs []reg, r int) ids.Id {
	if r == regNone {
		return op.Subject
	}
	switch it.rule.vars[r].Kind {
	case VarKindTable:
		t := regs[r].table
		if t.table == nil || t.count != 1 {
			panic(fmt.Sprintf("rule: register %d does not address a single entity", r))
		}
		return t.table.Entities[t.offset]
	case VarKindEntity:
		return regs[r].entity
	}
	panic(fmt.Sprintf("rule: register %d cannot produce an entity", r))
}

func (it *Iter) regGetTable(op *Op, regs []reg, r int) *world.Table {
	if r == regNone {
		return it.rule.w.TableOf(op.Subject)
	}
	switch it.rule.vars[r].Kind {
	case VarKindTable:
		return regs[r].table.table
	case VarKindEntity:
		return it.rule.w.TableOf(regs[r].entity)
	}
	return nil
}

// regSetEntity stores an entity into a register of either kind. Storing into
// a table register requires the entity to have a backing table; without one
// there is nothing to store, and the operation fails.
func (it *Iter) regSetEntity(regs []reg, r int, e ids.Id) bool {
	if it.rule.vars[r].Kind == VarKindTable {
		rec, ok := it.rule.w.RecordOf(e)
		if !ok {
			return false
		}
		regs[r].table = tableReg{table: rec.Table, offset: rec.Row, count: 1}
		return true
	}
	it.entityRegSet(regs, r, e)
	return true
}

// setColumn records the id matched for the operation's source term.
func (it *Iter) setColumn(op *Op, typ []ids.Id, column int) {
	if op.Column == -1 {
		return
	}
	if typ != nil {
		it.termIDs[op.Column] = typ[column]
	} else {
		it.termIDs[op.Column] = 0
	}
}

// pushRegisters copies all registers into the next frame. If an operation is
// later asked to redo, it picks up from exactly the inputs it first saw.
func (it *Iter) pushRegisters(cur, next int) {
	if len(it.rule.vars) == 0 {
		return
	}
	copy(it.registers(next), it.registers(cur))
}

func (it *Iter) pushColumns(cur, next int) {
	if len(it.rule.terms) == 0 {
		return
	}
	copy(it.opColumns(next), it.opColumns(cur))
}

// findNextTable returns the next non-empty table of the set with a column
// matching the filter. Empty tables are skipped so downstream operations
// never process them.
func findNextTable(set *world.TableSet, f *filter, ctx *withCtx) world.TableRecord {
	if ctx.tableIndex >= set.Len() {
		return world.TableRecord{}
	}

	for {
		ctx.tableIndex++
		if ctx.tableIndex >= set.Len() {
			return world.TableRecord{}
		}

		rec := set.At(ctx.tableIndex)
		if rec.Table.Count() == 0 {
			continue
		}

		if column := findNextMatch(rec.Table.Type, rec.Column, f); column != -1 {
			return world.TableRecord{Table: rec.Table, Column: column}
		}
	}
}

// termColumn reads the scan position for op: the frame's column entry when
// the operation has a source term, the op context otherwise.
func (it *Iter) termColumn(op *Op, opIndex int, ctx *withCtx) int {
	if op.Column != -1 {
		return it.opColumns(opIndex)[op.Column]
	}
	return ctx.column
}

func (it *Iter) setTermColumn(op *Op, opIndex int, ctx *withCtx, column int) {
	if op.Column != -1 {
		it.opColumns(opIndex)[op.Column] = column
	}
	ctx.column = column
}

// evalInput always succeeds the first time and always fails on redo, which
// terminates the program.
func (it *Iter) evalInput(op *Op, opIndex int, redo bool) bool {
	return !redo
}

// evalSelect finds and iterates the table set that corresponds to its pair.
func (it *Iter) evalSelect(op *Op, opIndex int, redo bool) bool {
	w := it.rule.w
	ctx := &it.opCtx[opIndex].with
	regs := it.registers(opIndex)
	r := op.ROut

	f := it.pairToFilter(opIndex, op.Param)

	// Even when this is not the first evaluation, variables may have changed
	// since last time, so the table set is looked up again unless redoing.
	var set *world.TableSet
	if redo {
		set = ctx.tableSet
	} else {
		set = w.TableSetFor(f.mask)
		ctx.tableSet = set
	}
	if set == nil {
		return false
	}

	column := -1
	var table *world.Table

	if !redo {
		ctx.tableIndex = -1
		rec := findNextTable(set, &f, ctx)
		if rec.Table == nil {
			return false
		}
		table = rec.Table
		column = rec.Column
		it.setTermColumn(op, opIndex, ctx, column)
		it.tableRegSet(regs, r, table)
	} else {
		// Scan the current table further in case of a wildcard filter.
		if f.wildcard {
			table = it.tableRegGet(regs, r)
			column = it.termColumn(op, opIndex, ctx)
			column = findNextMatch(table.Type, column+1, &f)
			it.setTermColumn(op, opIndex, ctx, column)
		}

		if column == -1 {
			rec := findNextTable(set, &f, ctx)
			if rec.Table == nil {
				return false
			}
			table = rec.Table
			column = rec.Column
			it.setTermColumn(op, opIndex, ctx, column)
			it.tableRegSet(regs, r, table)
		}
	}

	if f.wildcard {
		it.reifyVariables(opIndex, &f, table.Type, column)
	}
	it.setColumn(op, table.Type, column)

	return true
}

// evalWith applies the pair filter to the table or entity in its input
// register. Membership in the filter's table set is O(1) by table id.
func (it *Iter) evalWith(op *Op, opIndex int, redo bool) bool {
	w := it.rule.w
	ctx := &it.opCtx[opIndex].with
	regs := it.registers(opIndex)
	r := op.RIn

	f := it.pairToFilter(opIndex, op.Param)

	// Without wildcards there is exactly one answer; a redo has nothing
	// more to yield.
	if redo && !f.wildcard {
		return false
	}

	var set *world.TableSet
	if redo {
		set = ctx.tableSet
	} else {
		// Transitive relationships are inclusive: a transitive predicate
		// queried with equal subject and object holds even though the
		// subject does not literally carry the relationship.
		if op.Param.Transitive {
			var subj ids.Id
			if r == regNone {
				subj = op.Subject
			} else if it.rule.vars[r].Kind == VarKindEntity {
				subj = it.entityRegGet(regs, r)
			}

			if subj != 0 && !f.objWildcard {
				if subj == ids.Lo(f.mask) {
					if op.Column != -1 {
						it.termIDs[op.Column] = f.mask
					}
					return true
				}
			}
		}

		set = w.TableSetFor(f.mask)
		ctx.tableSet = set
	}

	// No tables carry the filter at all, so there can be no matches,
	// transitive or otherwise.
	if set == nil {
		return false
	}

	column := -1
	newColumn := -1
	var table *world.Table

	if !redo {
		table = it.regGetTable(op, regs, r)
		if table == nil {
			return false
		}

		rec := set.Find(table.ID)
		if rec == nil {
			return false
		}
		column = rec.Column
		newColumn = findNextMatch(table.Type, column, &f)
	} else {
		table = it.regGetTable(op, regs, r)
		if f.wildcard {
			if table == nil {
				return false
			}
			column = it.termColumn(op, opIndex, ctx) + 1
			newColumn = findNextMatch(table.Type, column, &f)
		}
	}

	if newColumn == -1 {
		return false
	}
	column = newColumn
	it.setTermColumn(op, opIndex, ctx, column)

	if f.wildcard {
		it.reifyVariables(opIndex, &f, table.Type, column)
	}
	it.setColumn(op, table.Type, column)

	return true
}

func subsetFrameAt(ctx *subsetCtx, sp int) *subsetFrame {
	for len(ctx.stack) <= sp {
		ctx.stack = append(ctx.stack, subsetFrame{})
	}
	return &ctx.stack[sp]
}

// evalSubset walks every table reachable from the pair's object over the
// transitive relationship, depth first. Produces table-valued results.
func (it *Iter) evalSubset(op *Op, opIndex int, redo bool) bool {
	w := it.rule.w
	ctx := &it.opCtx[opIndex].subset
	regs := it.registers(opIndex)
	r := op.ROut

	pair := op.Param
	f := it.pairToFilter(opIndex, pair)

	if !redo {
		ctx.stack = ctx.storage[:]
		ctx.sp = 0
		frame := &ctx.stack[0]

		set := w.TableSetFor(f.mask)
		if set == nil {
			return false
		}
		frame.with.tableSet = set
		frame.with.tableIndex = -1

		rec := findNextTable(set, &f, &frame.with)
		if rec.Table == nil {
			return false
		}

		frame.table = rec.Table
		frame.row = 0
		frame.column = rec.Column
		it.tableRegSet(regs, r, rec.Table)
		it.setColumn(op, rec.Table.Type, rec.Column)
		return true
	}

	var table *world.Table
	var frame *subsetFrame

	for table == nil {
		sp := ctx.sp
		frame = &ctx.stack[sp]
		table = frame.table
		set := frame.with.tableSet
		row := frame.row

		// The current table is exhausted: find the next table of this
		// frame's set, or pop until a frame still has one.
		for sp >= 0 && row >= table.Count() {
			rec := findNextTable(set, &f, &frame.with)
			if rec.Table != nil {
				table = rec.Table
				frame.table = table
				row = 0
				frame.row = 0
				frame.column = rec.Column
				it.setColumn(op, table.Type, rec.Column)
				it.tableRegSet(regs, r, table)
				return true
			}

			ctx.sp--
			sp = ctx.sp
			if sp < 0 {
				return false
			}
			frame = &ctx.stack[sp]
			table = frame.table
			set = frame.with.tableSet
			frame.row++
			row = frame.row
		}

		rowCount := table.Count()

		// Each entity of the current table roots a deeper subtree: look up
		// the table set that has the entity as object and descend.
		table = nil
		for table == nil && row < rowCount {
			e := frame.table.Entities[row]

			pair.RegMask &^= pairObj
			pair.Obj = e
			f = it.pairToFilter(opIndex, pair)

			if set := w.TableSetFor(f.mask); set != nil {
				newFrame := subsetFrameAt(ctx, sp+1)
				newFrame.with.tableSet = set
				newFrame.with.tableIndex = -1
				rec := findNextTable(set, &f, &newFrame.with)
				if rec.Table != nil {
					table = rec.Table
					ctx.sp++
					newFrame.table = table
					newFrame.row = 0
					newFrame.column = rec.Column
					frame = newFrame
				}
			}

			if table == nil {
				frame.row++
				row = frame.row
			}
		}
	}

	it.tableRegSet(regs, r, table)
	it.setColumn(op, table.Type, frame.column)

	return true
}

func supersetFrameAt(ctx *supersetCtx, sp int) *supersetFrame {
	for len(ctx.stack) <= sp {
		ctx.stack = append(ctx.stack, supersetFrame{})
	}
	return &ctx.stack[sp]
}

// evalSuperset walks the ancestor chain of the pair's object: one link up
// per redo, exhausting siblings at each level before popping. Produces
// entity-valued results.
func (it *Iter) evalSuperset(op *Op, opIndex int, redo bool) bool {
	w := it.rule.w
	ctx := &it.opCtx[opIndex].superset
	regs := it.registers(opIndex)
	r := op.ROut

	pair := op.Param
	f := it.pairToFilter(opIndex, pair)

	// The chain is walked with the object blanked out: any id carrying the
	// transitive predicate names the next ancestor.
	mask := ids.Pair(pair.Pred, ids.Wildcard)

	if !redo {
		ctx.stack = ctx.storage[:]
		ctx.sp = 0
		frame := &ctx.stack[0]

		set := w.TableSetFor(mask)
		if set == nil {
			// No table carries the transitive relationship at all.
			return false
		}
		ctx.tableSet = set

		obj := ids.Lo(f.mask)
		table := w.TableOf(obj)
		if table == nil {
			return false
		}

		f.mask = mask
		f.setExprMask(mask)
		column := findNextMatch(table.Type, 0, &f)
		if column == -1 {
			return false
		}

		colObj := ids.Lo(table.Type[column])
		it.entityRegSet(regs, r, colObj)
		it.setColumn(op, table.Type, column)

		frame.table = table
		frame.column = column
		return true
	}

	sp := ctx.sp
	frame := &ctx.stack[sp]
	table := frame.table
	column := frame.column

	f.mask = mask
	f.setExprMask(mask)

	colObj := ids.Lo(table.Type[column])
	if next := w.TableOf(colObj); next != nil {
		sp++
		frame = supersetFrameAt(ctx, sp)
		frame.table = next
		frame.column = -1
	}

	for sp >= 0 {
		frame = &ctx.stack[sp]
		table = frame.table

		column = findNextMatch(table.Type, frame.column+1, &f)
		if column != -1 {
			ctx.sp = sp
			frame.column = column
			colObj = ids.Lo(table.Type[column])

			it.entityRegSet(regs, r, colObj)
			it.setColumn(op, table.Type, column)
			return true
		}

		sp--
	}

	return false
}

// evalEach forwards the entities of a table register one by one into an
// entity register.
func (it *Iter) evalEach(op *Op, opIndex int, redo bool) bool {
	ctx := &it.opCtx[opIndex].each
	regs := it.registers(opIndex)

	table := it.tableRegGet(regs, op.RIn)
	if table == nil {
		return false
	}

	offset := regs[op.RIn].table.offset
	count := regs[op.RIn].table.count
	if count == 0 {
		count = table.Count()
		if count == 0 {
			return false
		}
	} else {
		count += offset
	}

	var row int
	if !redo {
		row = offset
		ctx.row = row
	} else {
		ctx.row++
		row = ctx.row
	}

	if row >= count {
		return false
	}

	// Skip reserved entities that could confuse operations.
	e := table.Entities[row]
	for e == ids.Wildcard || e == ids.This {
		row++
		if row == count {
			return false
		}
		e = table.Entities[row]
	}
	ctx.row = row

	it.entityRegSet(regs, op.ROut, e)
	return true
}

// evalStore writes an entity into a register. Succeeds exactly once per
// entry.
func (it *Iter) evalStore(op *Op, opIndex int, redo bool) bool {
	if redo {
		return false
	}

	regs := it.registers(opIndex)
	e := it.regGetEntity(op, regs, op.RIn)
	if !it.regSetEntity(regs, op.ROut, e) {
		return false
	}

	if op.Column >= 0 {
		f := it.pairToFilter(opIndex, op.Param)
		it.termIDs[op.Column] = f.mask
	}

	return true
}

// evalSetJmp stores the label for its Jump sibling: the pass label on first
// entry, the fail label on redo.
func (it *Iter) evalSetJmp(op *Op, opIndex int, redo bool) bool {
	ctx := &it.opCtx[opIndex].setjmp
	if !redo {
		ctx.label = op.OnPass
		return true
	}
	ctx.label = op.OnFail
	return false
}

// evalJump is a passthrough; the dispatcher transfers control to the label
// stored by the SetJmp operation this jump names.
func (it *Iter) evalJump(op *Op, opIndex int, redo bool) bool {
	return !redo
}

// evalYield always fails: there are never operations after a yield, and the
// failure drives redo of the previous operations for as long as they have
// results.
func (it *Iter) evalYield(op *Op, opIndex int, redo bool) bool {
	return false
}

func (it *Iter) evalOp(op *Op, opIndex int, redo bool) bool {
	switch op.Kind {
	case OpInput:
		return it.evalInput(op, opIndex, redo)
	case OpSelect:
		return it.evalSelect(op, opIndex, redo)
	case OpWith:
		return it.evalWith(op, opIndex, redo)
	case OpSubSet:
		return it.evalSubset(op, opIndex, redo)
	case OpSuperSet:
		return it.evalSuperset(op, opIndex, redo)
	case OpEach:
		return it.evalEach(op, opIndex, redo)
	case OpStore:
		return it.evalStore(op, opIndex, redo)
	case OpSetJmp:
		return it.evalSetJmp(op, opIndex, redo)
	case OpJump:
		return it.evalJump(op, opIndex, redo)
	case OpYield:
		return it.evalYield(op, opIndex, redo)
	default:
		return false
	}
}

// Next evaluates the program until the next Yield and publishes the result.
// It returns false once the program has terminated; the iterator's state is
// released at that point.
func (it *Iter) Next() bool {
	if it.done {
		return false
	}

	r := it.rule
	redo := it.redo
	lastIndex := 0

	for it.op != -1 {
		// The result of an operation decides the flow: true continues to
		// OnPass with a fresh entry, false backtracks to OnFail with a redo.
		opIndex := it.op
		op := &r.ops[opIndex]

		// Entering a non-control-flow operation snapshots the frame it is
		// given, so a later rewind sees the same inputs again.
		if !redo && opIndex != 0 && !isControlFlow(op) {
			it.pushRegisters(lastIndex, opIndex)
			it.pushColumns(lastIndex, opIndex)
			it.opCtx[opIndex].lastOp = lastIndex
		}

		result := it.evalOp(op, opIndex, redo)
		if result {
			it.op = op.OnPass
		} else {
			it.op = op.OnFail
		}
		redo = !result

		if op.Kind == OpYield {
			it.populate(op, opIndex)
			it.redo = true
			return true
		}

		switch {
		case op.Kind == OpJump:
			// The label lives in the context of the SetJmp named by OnPass.
			it.op = it.opCtx[op.OnPass].setjmp.label
		case op.Kind == OpSetJmp:
			// SetJmp is the first evaluation of a branch either way.
			redo = false
		default:
			lastIndex = opIndex
		}
	}

	it.release()
	return false
}

// release drops the iterator's frames and contexts. Results already yielded
// stay valid: they alias the world's tables, not the frames.
func (it *Iter) release() {
	it.done = true
	it.regs = nil
	it.cols = nil
	it.opCtx = nil
}

// populate fills the public iterator fields from the yield frame.
func (it *Iter) populate(op *Op, opIndex int) {
	r := it.rule

	// Without a This variable there is nothing to yield; the rule reports
	// only success (and its variables, through Variable).
	if op.RIn == regNone {
		it.Entities = nil
		it.Count = 0
		it.Offset = 0
		it.columns = nil
		return
	}

	v := r.vars[op.RIn]
	regs := it.registers(opIndex)

	if v.Kind == VarKindTable {
		tr := regs[op.RIn].table
		it.setIterTable(tr.table, opIndex, tr.offset)
		if tr.count != 0 {
			it.Offset = tr.offset
			it.Count = tr.count
		}
		return
	}

	e := regs[op.RIn].entity
	rec, ok := r.w.RecordOf(e)
	if !ok {
		// Reified entities come out of tables, so this cannot normally
		// happen; yield the bare entity rather than fail late.
		it.Entities = []ids.Id{e}
		it.Count = 1
		it.Offset = 0
		it.columns = it.opColumns(opIndex)
		return
	}
	it.Offset = rec.Row
	it.setIterTable(rec.Table, opIndex, rec.Row)
	it.Count = 1
	it.Entities = rec.Table.Entities[rec.Row:]
}

func (it *Iter) setIterTable(table *world.Table, opIndex, offset int) {
	it.table = table
	it.Count = table.Count() - offset
	it.Offset = offset
	it.Entities = table.Entities[offset:]

	// Callers expect column indices to start at 1. The yield frame's column
	// row is private to this operation, so it can be modified in place.
	cols := it.opColumns(opIndex)
	for i := range cols {
		cols[i]++
	}
	it.columns = cols
}

// Variable returns the reified value of an entity variable at the yield
// frame. Table variables return zero.
func (it *Iter) Variable(varID int) ids.Id {
	r := it.rule
	if r.vars[varID].Kind != VarKindEntity {
		return 0
	}
	if it.regs == nil {
		return 0
	}
	regs := it.registers(len(r.ops) - 1)
	return it.entityRegGet(regs, varID)
}

// Columns returns, per source term, the 1-based column index where the term
// was satisfied in the yielded table; 0 means the match did not come from
// the table.
func (it *Iter) Columns() []int {
	return it.columns
}

// TermID returns the id that satisfied the i-th source term in the current
// result.
func (it *Iter) TermID(i int) ids.Id {
	return it.termIDs[i]
}

// Table returns the yielded table, if any.
func (it *Iter) Table() *world.Table {
	return it.table
}
