package saveload

import "reflect"

// diffMaps computes the shallow, top-level-key delta between a
// checkpoint and the current document: keys present in current that
// are new or changed relative to checkpoint. A nil checkpoint (nothing
// saved locally yet) yields the full document, since there is nothing
// to diff against.
func diffMaps(checkpoint, current map[string]interface{}) map[string]interface{} {
	if checkpoint == nil {
		return current
	}
	delta := make(map[string]interface{}, len(current))
	for k, v := range current {
		if cv, ok := checkpoint[k]; !ok || !reflect.DeepEqual(cv, v) {
			delta[k] = v
		}
	}
	return delta
}
