// Package models contains domain models for driftwatch.
package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// Vector is an embedding vector stored as a JSON array column.
type Vector []float64

// Value implements driver.Valuer for database storage.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Scan implements sql.Scanner for database retrieval.
func (v *Vector) Scan(value interface{}) error {
	if value == nil {
		*v = nil
		return nil
	}
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	default:
		return fmt.Errorf("unsupported type for Vector: %T", value)
	}
}

// IntMap is a string-keyed integer map stored as a JSON object column.
// Used for confidence-distribution histograms (bucket label -> count).
type IntMap map[string]int

// Value implements driver.Valuer for database storage.
func (m IntMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval.
func (m *IntMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, m)
	case string:
		return json.Unmarshal([]byte(data), m)
	default:
		return fmt.Errorf("unsupported type for IntMap: %T", value)
	}
}

// TopItem is a popularity-ranked item reference kept in snapshot metadata.
type TopItem struct {
	ItemID    int64  `json:"item_id"`
	Title     string `json:"title"`
	ViewCount int64  `json:"view_count"`
}

// TopItemList is a JSON array column of TopItem.
type TopItemList []TopItem

// Value implements driver.Valuer for database storage.
func (l TopItemList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for database retrieval.
func (l *TopItemList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, l)
	case string:
		return json.Unmarshal([]byte(data), l)
	default:
		return fmt.Errorf("unsupported type for TopItemList: %T", value)
	}
}

// StatsMap is a free-form structured statistics column (JSON object).
type StatsMap map[string]any

// Value implements driver.Valuer for database storage.
func (m StatsMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval.
func (m *StatsMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, m)
	case string:
		return json.Unmarshal([]byte(data), m)
	default:
		return fmt.Errorf("unsupported type for StatsMap: %T", value)
	}
}
