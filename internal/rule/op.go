package rule

import "github.com/funvibe/rulevm/internal/ids"

// OpKind identifies a program operation.
type OpKind int

const (
	OpInput    OpKind = iota // Placeholder, first instruction in every program
	OpSelect                 // Selects all tables for a given predicate
	OpWith                   // Applies a filter to a table or entity
	OpSubSet                 // Finds all subsets for a transitive relationship
	OpSuperSet               // Finds all supersets for a transitive relationship
	OpStore                  // Store entity in a table or entity register
	OpEach                   // Forwards each entity in a table
	OpSetJmp                 // Sets the label consulted by a Jump operation
	OpJump                   // Jump to an operation label
	OpYield                  // Yield result
)

var opNames = [...]string{
	OpInput:    "input",
	OpSelect:   "select",
	OpWith:     "with",
	OpSubSet:   "subset",
	OpSuperSet: "superset",
	OpStore:    "store",
	OpEach:     "each",
	OpSetJmp:   "setjmp",
	OpJump:     "jump",
	OpYield:    "yield",
}

func (k OpKind) String() string {
	if int(k) < len(opNames) {
		return opNames[k]
	}
	return "unknown"
}

// Register mask bits on a Pair.
const (
	pairPred = 1 // predicate slot holds a variable index
	pairObj  = 2 // object slot holds a variable index
)

// Pair is the compile-time encoding of a term's (predicate, object) portion.
// A slot holds either a literal id or a variable index, keyed by RegMask.
// Pairs are immutable once the program is compiled.
type Pair struct {
	Pred       ids.Id
	Obj        ids.Id
	RegMask    int
	Transitive bool // predicate has the transitive property
	Final      bool // predicate has no subtypes
}

// Op is a single program operation. OnPass and OnFail are program indices;
// -1 terminates the program. Column is the source term the operation matches
// for, or -1. RIn/ROut are register indices with regNone meaning none; an
// operation with a constant subject stores it in Subject instead.
type Op struct {
	Kind    OpKind
	Param   Pair
	Subject ids.Id

	OnPass int
	OnFail int

	Column int
	RIn    int
	ROut   int

	// HasIn/HasOut record whether the operation uses its registers, which
	// keeps disassembly honest.
	HasIn  bool
	HasOut bool
}

func isControlFlow(op *Op) bool {
	switch op.Kind {
	case OpSetJmp, OpJump:
		return true
	default:
		return false
	}
}
