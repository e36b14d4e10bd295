// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/funcbox/funcbox/internal/issue"
	"github.com/funcbox/funcbox/internal/queue"

	"github.com/spf13/cobra"
)

func newWorkerCommand(app *App) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume requests from a Redis list",
		Long: `Consume requests from a Redis list.

Requests are popped from redis.queue. Kill messages may also be pushed to
<redis.queue>:kill, which is read first and is read even while every
execution slot is busy. Every response message is appended to
<redis.response_prefix>:responses:<executionId>, which expires after
redis.response_ttl_seconds. Messages without an execution id go to
<redis.response_prefix>:errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := app.LoadConfig(ctx)
			if err != nil {
				return err
			}
			logger := app.Logger(cfg)
			h, err := app.NewHost(cfg, logger)
			if err != nil {
				return err
			}

			w := queue.New(queue.Config{
				Address:        cfg.Redis.Address,
				Password:       cfg.Redis.Password,
				DB:             cfg.Redis.DB,
				Queue:          cfg.Redis.Queue,
				ResponsePrefix: cfg.Redis.ResponsePrefix,
				ResponseTTL:    cfg.ResponseTTL(),
				Concurrency:    concurrency,
			}, h, logger.WithPrefix("worker"))
			return runTransports(ctx, logger, namedTransport{transport: w, name: "redis", issueID: issue.RedisUnavailableId})
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "requests popped but unfinished at once (default: number of CPUs)")
	return cmd
}
