package main

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"projex/activity"
	"projex/storage"
)

func activityCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Move change events from the event queue into the activity feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			switch {
			case cfg.Storage.ConnectionString == "" || cfg.Storage.EventQueue == "":
				return errors.New("missing storage config: STORAGE_CONNECTION_STRING and EVENTS_QUEUE")
			case cfg.Redis.ConnectionString == "":
				return errors.New("missing redis config: REDIS_CONNECTION_STRING")
			}

			ctx := cmd.Context()
			rc, err := newRedisClient(ctx, cfg.Redis.ConnectionString)
			if err != nil {
				return err
			}
			defer rc.Close()

			src, err := storage.NewQueueConsumer(cfg.Storage.ConnectionString, cfg.Storage.EventQueue)
			if err != nil {
				return err
			}
			log.WithField("queue", cfg.Storage.EventQueue).Info("activity consumer started")
			err = activity.NewConsumer(src, activity.NewFeed(rc, limit), log.StandardLogger()).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", activity.DefaultLimit, "events kept per project")
	return cmd
}
