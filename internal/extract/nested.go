package extract

import "github.com/telhawk-systems/cloudlog/internal/event"

// RenameNestedKeys renames a key inside every object element of an array field.
type RenameNestedKeys struct {
	ArrayField string
	From       string
	To         string
}

func (n RenameNestedKeys) Name() string { return "rename_nested_keys" }

func (n RenameNestedKeys) Run(r *event.Record) error {
	items, ok := r.Fields.GetSlice(n.ArrayField)
	if !ok {
		return nil
	}
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if v, ok := obj[n.From]; ok && v != nil {
			obj[n.To] = v
			delete(obj, n.From)
		}
	}
	return nil
}
