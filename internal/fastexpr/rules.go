package fastexpr

import (
	"strings"

	"github.com/quantforge/alphagate/internal/domain"
)

// TypeRule is one row of the operator type-rule table. Rules are matched by
// operator name, either exactly or by prefix; the first matching row wins.
// Adding a rule is a table change, not a code change.
type TypeRule struct {
	// Match is the operator name or name prefix.
	Match string
	// Prefix selects prefix matching instead of exact matching.
	Prefix bool
	// MatrixArgs rejects VECTOR or GROUP positional arguments.
	MatrixArgs bool
	// GroupArg is the default positional index that must be GROUP-typed,
	// or -1. A catalog parameter hinted GROUP overrides it.
	GroupArg int
	// AcceptsVector allows a VECTOR field as the sole positional argument.
	AcceptsVector bool
	// GroupProducer marks calls accepted in a group-argument position.
	GroupProducer bool
	// Result overrides the inferred result type of the call.
	Result domain.ValueType
}

// DefaultRules is the rule table used by Validate.
var DefaultRules = []TypeRule{
	{Match: "ts_", Prefix: true, MatrixArgs: true, GroupArg: -1},
	{Match: "group_", Prefix: true, GroupArg: 1, GroupProducer: true},
	{Match: "vec_", Prefix: true, AcceptsVector: true, GroupArg: -1},
	{Match: "bucket", GroupArg: -1, GroupProducer: true, Result: domain.TypeGroup},
}

func lookupRule(rules []TypeRule, name string) (TypeRule, bool) {
	for _, r := range rules {
		if r.Prefix && strings.HasPrefix(name, r.Match) {
			return r, true
		}
		if !r.Prefix && name == r.Match {
			return r, true
		}
	}
	return TypeRule{GroupArg: -1}, false
}

// groupArgIndex returns the positional index that must carry a group.
func groupArgIndex(rule TypeRule, op domain.Operator) int {
	pos := 0
	for _, p := range op.Params {
		if p.Kind != domain.ParamPositional {
			continue
		}
		if p.TypeHint == domain.TypeGroup {
			return pos
		}
		pos++
	}
	return rule.GroupArg
}
