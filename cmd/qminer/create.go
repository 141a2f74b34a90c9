package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"qminer/internal/qbase"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "create a new database directory with the demo docs schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := qbase.Create(dbDir, buildDocsSchema, engineCfg)
		if err != nil {
			return fmt.Errorf("create: %w", err)
		}
		defer b.Close()
		fmt.Printf("created database at %s\n", dbDir)
		return nil
	},
}
