package pipeline

import (
	"strconv"
	"strings"
)

const (
	// DefaultBudget applies when no budget is configured or the configured
	// value cannot be parsed.
	DefaultBudget = 8192

	// BudgetUnlimited is the internal sentinel for an uncapped budget.
	BudgetUnlimited = 0

	// lowBudgetMax is the inclusive upper bound of the always-off band.
	lowBudgetMax = 2048
	// mediumBudgetMax is the inclusive upper bound of the task-aware band;
	// anything above always thinks.
	mediumBudgetMax = 8192
)

// ParseBudget resolves a raw budget setting to a non-negative integer.
// Parsing is total: empty input falls back, "unlimited" (any case) and
// negative values mean unlimited, junk falls back. fallback itself is
// normalized to DefaultBudget when out of range.
func ParseBudget(raw string, fallback int) int {
	if fallback < 0 {
		fallback = DefaultBudget
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	if strings.EqualFold(trimmed, "unlimited") {
		return BudgetUnlimited
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		parsed, floatErr := strconv.ParseFloat(trimmed, 64)
		if floatErr != nil {
			return fallback
		}
		value = int(parsed)
	}
	if value < 0 {
		return BudgetUnlimited
	}
	return value
}

// ShouldEnableThinking maps a task label and a resolved budget to the binary
// thinking switch. Bands are evaluated in fixed order; in the task-aware
// middle band, anything that is not clearly execution thinks — mixed signals
// take the safe default.
func ShouldEnableThinking(task TaskType, budget int) bool {
	switch {
	case budget == BudgetUnlimited:
		return true
	case budget <= lowBudgetMax:
		return false
	case budget > mediumBudgetMax:
		return true
	}

	switch task {
	case TaskReasoning:
		return true
	case TaskExecution:
		return false
	default:
		return true
	}
}

// DescribeBudget names the band a budget falls in, for diagnostics only.
func DescribeBudget(budget int) string {
	switch {
	case budget == BudgetUnlimited:
		return "unlimited (always think)"
	case budget <= lowBudgetMax:
		return "low (fast execution, no thinking)"
	case budget <= mediumBudgetMax:
		return "medium (task-aware thinking)"
	default:
		return "high (always think)"
	}
}
