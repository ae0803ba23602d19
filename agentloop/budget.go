package agentloop

import "strconv"

// Budget caps the model calls one turn may make.
type Budget int

const (
	// DefaultBudget uses the configured max_commands.
	DefaultBudget Budget = 0
	// Unbounded lets the loop run until the model stops issuing commands.
	// Only system-originated turns may ask for it explicitly.
	Unbounded Budget = -1
)

func (b Budget) String() string {
	if b == Unbounded {
		return "unbounded"
	}
	return strconv.Itoa(int(b))
}

// allows reports whether iteration i (0-based) is within the budget.
func (b Budget) allows(i int) bool {
	return b == Unbounded || i < int(b)
}

// BudgetFromConfig converts a max_commands setting, where -1 means no limit.
func BudgetFromConfig(maxCommands int) Budget {
	if maxCommands < 0 {
		return Unbounded
	}
	return Budget(maxCommands)
}
