package rule

import (
	"fmt"
	"strings"
)

// String returns a human-readable disassembly of the program, one line per
// operation after the Input prologue, which is not printed. Useful to
// analyze how a rule is evaluated.
func (r *Rule) String() string {
	var sb strings.Builder

	for i := 1; i < len(r.ops); i++ {
		op := &r.ops[i]
		pair := op.Param

		var predName, objName string
		if pair.RegMask&pairPred != 0 {
			predName = r.vars[int(pair.Pred)].Name
		} else {
			predName = r.w.NameOf(pair.Pred)
		}
		if pair.Obj != 0 {
			if pair.RegMask&pairObj != 0 {
				objName = r.vars[int(pair.Obj)].Name
			} else {
				objName = r.w.NameOf(pair.Obj)
			}
		}

		fmt.Fprintf(&sb, "%2d: [P:%2d, F:%2d] ", i, op.OnPass, op.OnFail)

		hasFilter := false
		switch op.Kind {
		case OpSelect:
			sb.WriteString("select   ")
			hasFilter = true
		case OpWith:
			sb.WriteString("with     ")
			hasFilter = true
		case OpStore:
			sb.WriteString("store    ")
		case OpSuperSet:
			sb.WriteString("superset ")
			hasFilter = true
		case OpSubSet:
			sb.WriteString("subset   ")
			hasFilter = true
		case OpEach:
			sb.WriteString("each     ")
		case OpSetJmp:
			sb.WriteString("setjmp   ")
		case OpJump:
			sb.WriteString("jump     ")
		case OpYield:
			sb.WriteString("yield    ")
		default:
			continue
		}

		if op.HasIn {
			sb.WriteString(r.regName("I", op, op.RIn))
		}
		if op.HasOut {
			sb.WriteString(r.regName("O", op, op.ROut))
		}

		if hasFilter {
			if pair.Obj == 0 {
				fmt.Fprintf(&sb, "F:(%s)", predName)
			} else {
				fmt.Fprintf(&sb, "F:(%s, %s)", predName, objName)
			}
		}

		sb.WriteString("\n")
	}

	return sb.String()
}

func (r *Rule) regName(dir string, op *Op, reg int) string {
	if reg != regNone {
		v := r.vars[reg]
		prefix := ""
		if v.Kind == VarKindTable {
			prefix = "t"
		}
		return fmt.Sprintf("%s:%s%s ", dir, prefix, v.Name)
	}
	if op.Subject != 0 {
		return fmt.Sprintf("%s:%s ", dir, r.w.NameOf(op.Subject))
	}
	return ""
}
