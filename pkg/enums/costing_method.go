package enums

import (
	"fmt"
	"strings"
)

// CostingMethod maps to the costing_method_enum enum in Postgres.
type CostingMethod string

const (
	CostingFIFO     CostingMethod = "fifo"
	CostingLIFO     CostingMethod = "lifo"
	CostingAverage  CostingMethod = "average"
	CostingSpecific CostingMethod = "specific"
)

var validCostingMethods = []CostingMethod{
	CostingFIFO,
	CostingLIFO,
	CostingAverage,
	CostingSpecific,
}

// IsValid reports whether the value matches the canonical costing method enum.
func (c CostingMethod) IsValid() bool {
	for _, candidate := range validCostingMethods {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCostingMethod converts raw input into CostingMethod (case-insensitive).
func ParseCostingMethod(value string) (CostingMethod, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validCostingMethods {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid costing method %q", value)
}
