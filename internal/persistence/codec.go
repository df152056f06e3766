package persistence

import (
	"encoding/json"
	"math"
)

// EncodeVariables serializes a variable bag as JSON. The engine restricts
// variable values to strings, integers, and booleans, all of which roundtrip
// cleanly.
func EncodeVariables(vars map[string]any) ([]byte, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	return json.Marshal(vars)
}

// DecodeVariables deserializes a variable bag. JSON numbers come back as
// float64; integral values are folded back to int so stored variables
// compare equal to what the caller wrote.
func DecodeVariables(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var vars map[string]any
	if err := json.Unmarshal(data, &vars); err != nil {
		return nil, err
	}
	for k, v := range vars {
		if f, ok := v.(float64); ok && f == math.Trunc(f) {
			vars[k] = int(f)
		}
	}
	return vars, nil
}

// EncodeStrings serializes a string slice as JSON.
func EncodeStrings(ss []string) ([]byte, error) {
	if len(ss) == 0 {
		return nil, nil
	}
	return json.Marshal(ss)
}

// DecodeStrings deserializes a string slice.
func DecodeStrings(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err != nil {
		return nil, err
	}
	return ss, nil
}
