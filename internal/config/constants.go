package config

// MaxVariableCount is the most variables a single rule may declare,
// anonymous registers included. Valid register indices are
// 0..MaxVariableCount-1.
const MaxVariableCount = 256

// RegNone is the register index meaning "no register"; operations with a
// constant subject use it. It lies outside the valid index range, so no
// variable id can collide with it.
const RegNone = -1

// SetStackDepth is the inline frame storage for subset/superset walks.
// Deeper type hierarchies spill to the heap.
const SetStackDepth = 16

// TableSetCacheSize bounds the memoized wildcard-mask table-set lookups kept
// per world.
const TableSetCacheSize = 256

// WorldFileExtensions are all recognized world definition file extensions
var WorldFileExtensions = []string{".yaml", ".yml"}
