package main

import (
	"fmt"
	"strings"

	"github.com/autom8ter/docrepl/fetcher"
	"github.com/autom8ter/docrepl/kv/registry"
	"github.com/spf13/cobra"
)

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "list the registered kv providers and oplog sources",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("kv providers:  %s\n", strings.Join(registry.Providers(), ", "))
			fmt.Printf("oplog sources: %s\n", strings.Join(fetcher.Sources(), ", "))
		},
	}
}
