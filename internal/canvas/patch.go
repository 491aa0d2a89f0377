package canvas

import (
	"encoding/json"
	"fmt"
)

// ApplyPatch merges a partial JSON update into obj field-wise. The patch is
// applied over the object's current wire form, so top-level fields merge
// while nested values (payload, physics) replace wholesale.
func ApplyPatch(obj *Object, updates json.RawMessage) error {
	if len(updates) == 0 {
		return nil
	}
	current, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshal object for patch: %w", err)
	}
	var base map[string]json.RawMessage
	if err := json.Unmarshal(current, &base); err != nil {
		return fmt.Errorf("unmarshal object for patch: %w", err)
	}
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(updates, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}
	for k, v := range patch {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged object: %w", err)
	}
	var next Object
	if err := json.Unmarshal(merged, &next); err != nil {
		return fmt.Errorf("unmarshal merged object: %w", err)
	}
	*obj = next
	return nil
}
