package enums

import (
	"fmt"
	"strings"
)

// MetalType maps to the metal_type_enum enum in Postgres.
type MetalType string

const (
	MetalGold24K      MetalType = "gold_24k"
	MetalGold22K      MetalType = "gold_22k"
	MetalGold18K      MetalType = "gold_18k"
	MetalGold14K      MetalType = "gold_14k"
	MetalGold9K       MetalType = "gold_9k"
	MetalSilver999    MetalType = "silver_999"
	MetalSilver925    MetalType = "silver_925"
	MetalPlatinum950  MetalType = "platinum_950"
	MetalPalladium950 MetalType = "palladium_950"
	MetalPalladium500 MetalType = "palladium_500"
)

var validMetalTypes = []MetalType{
	MetalGold24K,
	MetalGold22K,
	MetalGold18K,
	MetalGold14K,
	MetalGold9K,
	MetalSilver999,
	MetalSilver925,
	MetalPlatinum950,
	MetalPalladium950,
	MetalPalladium500,
}

// fineness in parts per thousand.
var metalFineness = map[MetalType]int{
	MetalGold24K:      999,
	MetalGold22K:      916,
	MetalGold18K:      750,
	MetalGold14K:      585,
	MetalGold9K:       375,
	MetalSilver999:    999,
	MetalSilver925:    925,
	MetalPlatinum950:  950,
	MetalPalladium950: 950,
	MetalPalladium500: 500,
}

// MetalTypes returns every supported metal type in catalogue order.
func MetalTypes() []MetalType {
	out := make([]MetalType, len(validMetalTypes))
	copy(out, validMetalTypes)
	return out
}

// IsValid reports whether the value matches the canonical metal type enum.
func (m MetalType) IsValid() bool {
	for _, candidate := range validMetalTypes {
		if candidate == m {
			return true
		}
	}
	return false
}

// Fineness returns the purity in parts per thousand, or 0 for unknown values.
func (m MetalType) Fineness() int {
	return metalFineness[m]
}

// ParseMetalType converts raw input into MetalType. Hyphenated spellings such
// as "gold-18k" are accepted.
func ParseMetalType(value string) (MetalType, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_")
	for _, candidate := range validMetalTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid metal type %q", value)
}
