package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use:   "docrepl",
		Short: "docrepl replicates a document database oplog into a transactional key value store",
	}
	cmd.AddCommand(replicateCmd(), configCmd(), providersCmd())
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
