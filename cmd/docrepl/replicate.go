package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/autom8ter/docrepl"
	"github.com/autom8ter/docrepl/oplog"
	"github.com/autom8ter/docrepl/repl"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// cliCallback ends the process on any terminal transition of the service
type cliCallback struct {
	cancel context.CancelCauseFunc
}

func (c *cliCallback) WaitUntilStartPermission(ctx context.Context) error {
	return nil
}

func (c *cliCallback) Rollback(svc *repl.Service, err *oplog.RollbackError) {
	c.cancel(fmt.Errorf("rollback required: %w", err))
}

func (c *cliCallback) OnError(svc *repl.Service, err error) {
	c.cancel(fmt.Errorf("replication failed: %w", err))
}

func (c *cliCallback) OnFinish(svc *repl.Service) {}

func replicateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "replicate",
		Short: "replicate the configured oplog source until interrupted",
		RunE: func(_ *cobra.Command, _ []string) error {
			content, err := os.ReadFile(configPath)
			if err != nil {
				return err
			}
			cfg, err := docrepl.LoadConfig(content)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancelCause(ctx)
			defer cancel(nil)

			r, err := docrepl.Open(ctx, cfg, &cliCallback{cancel: cancel})
			if err != nil {
				return err
			}
			if err := r.Start(ctx); err != nil {
				r.Close(context.Background())
				return err
			}
			egp, gctx := errgroup.WithContext(ctx)
			if cfg.HTTPAddr != "" {
				egp.Go(func() error {
					return r.Serve(gctx)
				})
			}
			egp.Go(func() error {
				<-gctx.Done()
				return r.Close(context.Background())
			})
			if err := egp.Wait(); err != nil {
				return err
			}
			if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
				return cause
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "docrepl.yaml", "path to the yaml or json config file")
	return cmd
}
