package main

import (
	"errors"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"projex/storage"
)

func initStorageCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init-storage",
		Short: "Create the document table and the change event queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Storage.ConnectionString == "" {
				return errors.New("missing STORAGE_CONNECTION_STRING")
			}
			log.Info("storage init starting")
			if err := storage.Provision(cmd.Context(), cfg.Storage.ConnectionString,
				[]string{cfg.Storage.Table}, []string{cfg.Storage.EventQueue}); err != nil {
				return err
			}
			log.Info("storage init complete")
			return nil
		},
	}
}
