package main

import (
	"encoding/json"
	"fmt"

	"github.com/autom8ter/docrepl"
	"github.com/autom8ter/docrepl/util"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	var (
		provider string
		source   string
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "print a starter config",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := docrepl.Config{
				Provider:       provider,
				ProviderParams: map[string]any{},
				Source:         docrepl.SourceConfig{Type: source, Params: map[string]any{}},
				HTTPAddr:       ":8080",
			}
			switch provider {
			case "badger":
				cfg.ProviderParams["storage_path"] = "./data"
			case "sqlite":
				cfg.ProviderParams["path"] = "./docrepl.db"
			case "tikv":
				cfg.ProviderParams["pd_addr"] = []string{"localhost:2379"}
			}
			switch source {
			case "mongo":
				cfg.Source.Params["uri"] = "mongodb://localhost:27017/?replicaSet=rs0"
			case "redis":
				cfg.Source.Params["addr"] = "localhost:6379"
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			bits, err := json.Marshal(map[string]any{
				"provider":        cfg.Provider,
				"providerParams":  cfg.ProviderParams,
				"source":          cfg.Source,
				"batchSize":       cfg.BatchSize,
				"pollTimeout":     cfg.PollTimeout.String(),
				"batchLinger":     cfg.BatchLinger.String(),
				"metadataRetries": cfg.MetadataRetries,
				"maxReconnects":   cfg.MaxReconnects,
				"lockLease":       cfg.LockLease.String(),
				"logLevel":        cfg.LogLevel,
				"httpAddr":        cfg.HTTPAddr,
			})
			if err != nil {
				return err
			}
			yml, err := util.JSONToYAML(bits)
			if err != nil {
				return err
			}
			fmt.Print(string(yml))
			return nil
		},
	}
	cmd.Flags().StringVarP(&provider, "provider", "p", "badger", "kv provider")
	cmd.Flags().StringVarP(&source, "source", "s", "mongo", "oplog source")
	return cmd
}
