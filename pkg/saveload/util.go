package saveload

import "github.com/fxamacker/cbor/v2"

// snapshotToMap round-trips v through CBOR into a generic document, so
// the worker can diff and migrate it without depending on v's concrete
// Go type. A nil v yields an empty document rather than a nil map, so
// callers never have to special-case "no data yet" against "empty
// save".
func snapshotToMap(v interface{}) (map[string]interface{}, error) {
	if v == nil {
		return map[string]interface{}{}, nil
	}
	raw, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := cbor.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]interface{}{}
	}
	return m, nil
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
