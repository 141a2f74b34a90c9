package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"qminer/internal/qbase"
	"qminer/internal/store"
)

var (
	addTitle string
	addBody  string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "add a record to the docs store",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := qbase.Open(dbDir, buildDocsSchema, engineCfg, false)
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		defer b.Close()

		docs, err := b.StoreByName("docs")
		if err != nil {
			return fmt.Errorf("docs store: %w", err)
		}
		id, err := docs.AddRec(map[string]store.FieldValue{
			"title": store.StrValue(addTitle),
			"body":  store.StrValue(addBody),
		})
		if err != nil {
			return fmt.Errorf("add record: %w", err)
		}
		fmt.Printf("added record %d\n", id)
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addTitle, "title", "", "document title")
	addCmd.Flags().StringVar(&addBody, "body", "", "document body text")
	addCmd.MarkFlagRequired("title")
	addCmd.MarkFlagRequired("body")
}
