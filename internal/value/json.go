package value

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON parses data into a Value. Link sigils are left in their
// wire Object form rather than resolved to Link (resolution requires a
// contextSpace, which this package-level function does not have —
// callers that know the surrounding space use ParseLink on the result).
// Grounded on the teacher's unmarshalIRValue, generalized to permit
// JSON numbers as float64 instead of rejecting them (§4.1's "Number
// representation" decision, recorded in internal/value's design entry).
func UnmarshalJSON(data []byte) (Value, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case 'n':
		return Null{}, nil

	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		arr := make(Array, len(raw))
		for i, elem := range raw {
			v, err := UnmarshalJSON(elem)
			if err != nil {
				return nil, fmt.Errorf("array index %d: %w", i, err)
			}
			arr[i] = v
		}
		return arr, nil

	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		obj := make(Object, len(raw))
		for k, elem := range raw {
			v, err := UnmarshalJSON(elem)
			if err != nil {
				return nil, fmt.Errorf("object key %q: %w", k, err)
			}
			obj[k] = v
		}
		return obj, nil

	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("unsupported JSON value: %w", err)
		}
		return Number(f), nil
	}
}
