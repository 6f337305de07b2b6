// Package models contains domain models for synapse.
package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// JSONStringArray is a string slice stored as a JSON text column.
type JSONStringArray []string

// Scan implements sql.Scanner for JSONStringArray.
func (j *JSONStringArray) Scan(src interface{}) error {
	data, err := scanBytes("JSONStringArray", src)
	if err != nil || data == nil {
		*j = nil
		return err
	}
	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONStringArray.
func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Vector is an embedding stored as a JSON text column.
type Vector []float32

// Scan implements sql.Scanner for Vector.
func (v *Vector) Scan(src interface{}) error {
	data, err := scanBytes("Vector", src)
	if err != nil || data == nil {
		*v = nil
		return err
	}
	return json.Unmarshal(data, v)
}

// Value implements driver.Valuer for Vector.
func (v Vector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func scanBytes(typeName string, src interface{}) ([]byte, error) {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil, nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return nil, fmt.Errorf("%s: unsupported type %T", typeName, src)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}
