package main

import "qminer/internal/schema"

// buildDocsSchema defines the one demo store this CLI knows how to work
// with: a "docs" store with a sortable title and full-text body.
func buildDocsSchema(sch *schema.Schema) error {
	desc, err := sch.AddStore("docs")
	if err != nil {
		return err
	}
	titleID, err := desc.AddField("title", schema.FieldStr, schema.FieldFlags{})
	if err != nil {
		return err
	}
	if _, err := sch.AddIndexKey(desc.ID, "Title", schema.KeyValue, schema.SortByStr, []schema.FieldID{titleID}, nil); err != nil {
		return err
	}
	bodyID, err := desc.AddField("body", schema.FieldStr, schema.FieldFlags{})
	if err != nil {
		return err
	}
	if _, err := sch.AddIndexKey(desc.ID, "Body", schema.KeyText, schema.SortByID, []schema.FieldID{bodyID}, nil); err != nil {
		return err
	}
	return nil
}
