// File: json.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB stores an arbitrary JSON object in a jsonb column.
type JSONB map[string]interface{}

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("unsupported type for JSONB: %T", value)
	}
}

// Int64Slice stores a JSON array of integers (e.g. user IDs) in a jsonb column.
type Int64Slice []int64

// Value implements driver.Valuer. A nil slice is persisted as an empty array
// so downstream filters never have to special-case NULL.
func (s Int64Slice) Value() (driver.Value, error) {
	if s == nil {
		return json.Marshal([]int64{})
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *Int64Slice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported type for Int64Slice: %T", value)
	}
}

// Contains reports whether id is present in the slice.
func (s Int64Slice) Contains(id int64) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}
