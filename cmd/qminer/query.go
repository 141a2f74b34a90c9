package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"qminer/internal/qbase"
)

var queryJSON string

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "run a $from/$and/$or/$join query against the database and print matches",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := qbase.Open(dbDir, buildDocsSchema, engineCfg, true)
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		defer b.Close()

		rs, err := b.Search(context.Background(), []byte(queryJSON))
		if err != nil {
			return fmt.Errorf("run query: %w", err)
		}

		rows, err := rs.ToJSON()
		if err != nil {
			return fmt.Errorf("render results: %w", err)
		}
		out, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal results: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryJSON, "q", `{"$from":"docs"}`, "JSON query, e.g. {\"$from\":\"docs\",\"Title\":\"hello\"}")
}
