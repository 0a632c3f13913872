package model

import (
	"database/sql/driver"
	"fmt"

	json "github.com/goccy/go-json"
)

func scanJSON(value interface{}, dst interface{}) (bool, error) {
	if value == nil {
		return false, nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return false, fmt.Errorf("unsupported JSON column type %T", value)
	}
	if len(bytes) == 0 || string(bytes) == "null" {
		return false, nil
	}
	return true, json.Unmarshal(bytes, dst)
}

// StringList is a JSON encoded []string column.
type StringList []string

// Scan 实现 sql.Scanner 接口
func (s *StringList) Scan(value interface{}) error {
	*s = nil
	_, err := scanJSON(value, s)
	return err
}

// Value 实现 driver.Valuer 接口
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	return string(b), err
}

// JSONMap is a free-form JSON object column.
type JSONMap map[string]interface{}

// Scan 实现 sql.Scanner 接口
func (m *JSONMap) Scan(value interface{}) error {
	*m = nil
	_, err := scanJSON(value, m)
	return err
}

// Value 实现 driver.Valuer 接口
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}
