/*
Package factory converts JSON leave-type definitions into leave.Type values.

PURPOSE:
  Lets administrators define the leave-type catalog in JSON - no code
  change to add a category or tune an allotment. The catalog is loaded at
  startup and persisted through the store, after which the engine only
  ever sees leave.Type.

JSON SCHEMA:
  [
    {
      "id": "casual",
      "name": "Casual Leave",
      "max_days": 12,
      "fixed_allocation": true
    },
    {
      "id": "unpaid",
      "name": "Unpaid Leave"
    }
  ]

  max_days may be fractional (half-day granularity) and is optional:
  omitting it makes the type uncapped. fixed_allocation requires max_days,
  since the fixed constant IS the cap.

SEE ALSO:
  - leave/types.go: The Type the engine consumes
  - cmd/server/main.go: Seeds the catalog on startup
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/atlashr/leave-engine/leave"
)

// TypeJSON is the JSON representation of a leave type.
type TypeJSON struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	MaxDays         *float64 `json:"max_days,omitempty"`
	FixedAllocation bool     `json:"fixed_allocation,omitempty"`
}

// ParseCatalog converts a JSON array of leave types, validating each entry.
func ParseCatalog(data []byte) ([]leave.Type, error) {
	var raw []TypeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid leave type catalog: %w", err)
	}

	seen := make(map[string]bool, len(raw))
	types := make([]leave.Type, 0, len(raw))
	for i, t := range raw {
		typ, err := ParseType(t)
		if err != nil {
			return nil, fmt.Errorf("leave type %d: %w", i, err)
		}
		if seen[typ.ID] {
			return nil, fmt.Errorf("leave type %d: duplicate id %q", i, typ.ID)
		}
		seen[typ.ID] = true
		types = append(types, typ)
	}
	return types, nil
}

// LoadCatalog reads and parses a catalog file.
func LoadCatalog(path string) ([]leave.Type, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseType validates and converts a single JSON definition.
func ParseType(t TypeJSON) (leave.Type, error) {
	if t.ID == "" {
		return leave.Type{}, fmt.Errorf("id is required")
	}
	if t.Name == "" {
		return leave.Type{}, fmt.Errorf("name is required")
	}
	if t.FixedAllocation && t.MaxDays == nil {
		return leave.Type{}, fmt.Errorf("fixed_allocation requires max_days")
	}

	typ := leave.Type{
		ID:              t.ID,
		Name:            t.Name,
		FixedAllocation: t.FixedAllocation,
	}
	if t.MaxDays != nil {
		if *t.MaxDays <= 0 {
			return leave.Type{}, fmt.Errorf("max_days must be positive")
		}
		d := decimal.NewFromFloat(*t.MaxDays)
		if !d.Mod(decimal.NewFromFloat(0.5)).IsZero() {
			return leave.Type{}, fmt.Errorf("max_days must be a multiple of 0.5")
		}
		typ.MaxDays = &d
	}
	return typ, nil
}

// DefaultCatalog returns the built-in starter catalog, used when no catalog
// file is configured.
func DefaultCatalog() []leave.Type {
	twelve := decimal.NewFromInt(12)
	ten := decimal.NewFromInt(10)
	return []leave.Type{
		{ID: "casual", Name: "Casual Leave", MaxDays: &twelve, FixedAllocation: true},
		{ID: "sick", Name: "Sick Leave", MaxDays: &ten},
		{ID: "unpaid", Name: "Unpaid Leave"},
	}
}
