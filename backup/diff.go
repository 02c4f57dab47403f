package backup

import "prodvault/types"

var diffFieldOrder = []string{"name", "price", "store", "url", "image_url", "category", "description"}

// diffStates classifies the field-level differences between two states of
// one record. Fields absent from a state (empty string, zero price) are
// treated as unset, so a field going from unset to set is "added" and the
// reverse is "removed".
func diffStates(prev, next types.StoredProduct) []types.FieldChange {
	prevFields := stateFields(prev)
	nextFields := stateFields(next)

	var changes []types.FieldChange
	for _, field := range diffFieldOrder {
		oldVal, hadOld := prevFields[field]
		newVal, hasNew := nextFields[field]
		switch {
		case !hadOld && hasNew:
			changes = append(changes, types.FieldChange{Field: field, Kind: types.ChangeAdded, New: newVal})
		case hadOld && !hasNew:
			changes = append(changes, types.FieldChange{Field: field, Kind: types.ChangeRemoved, Old: oldVal})
		case hadOld && hasNew && oldVal != newVal:
			changes = append(changes, types.FieldChange{Field: field, Kind: types.ChangeUpdated, Old: oldVal, New: newVal})
		}
	}
	return changes
}

func stateFields(p types.StoredProduct) map[string]any {
	fields := make(map[string]any, 7)
	if p.Name != "" {
		fields["name"] = p.Name
	}
	if p.Price > 0 {
		fields["price"] = p.Price
	}
	if p.Store != "" {
		fields["store"] = p.Store
	}
	if p.URL != "" {
		fields["url"] = p.URL
	}
	if p.ImageURL != "" {
		fields["image_url"] = p.ImageURL
	}
	if p.Category != "" {
		fields["category"] = p.Category
	}
	if p.Description != "" {
		fields["description"] = p.Description
	}
	return fields
}
