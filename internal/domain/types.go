package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringArray is a list of strings stored as a JSON text column.
type StringArray []string

// Value encodes a as JSON; nil is stored as an empty list.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return jsonValue(a)
}

// Scan decodes a JSON text column; NULL becomes an empty list.
func (a *StringArray) Scan(value interface{}) error {
	*a = StringArray{}
	return scanJSON(value, a)
}

// ColumnResults maps a column name to its row results, stored as a JSON text column.
type ColumnResults map[string][]RowResult

// Value encodes c as JSON; nil is stored as an empty object.
func (c ColumnResults) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	return jsonValue(c)
}

// Scan decodes a JSON text column; NULL becomes an empty map.
func (c *ColumnResults) Scan(value interface{}) error {
	*c = ColumnResults{}
	return scanJSON(value, c)
}

// FailedRowList is a list of failed-row ledger entries stored as a JSON text column.
type FailedRowList []FailedRow

// Value encodes l as JSON; nil is stored as an empty list.
func (l FailedRowList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue(l)
}

// Scan decodes a JSON text column; NULL becomes an empty list.
func (l *FailedRowList) Scan(value interface{}) error {
	*l = FailedRowList{}
	return scanJSON(value, l)
}

func jsonValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(value interface{}, dst interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan %T: unsupported source type %T", dst, value)
	}
	return json.Unmarshal(raw, dst)
}
