package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/victornm/quizsync/internal/config"
	"github.com/victornm/quizsync/internal/server"
)

func newServeCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(file)
			if err != nil {
				return err
			}

			s, err := server.Init(c)
			if err != nil {
				return fmt.Errorf("init server: %w", err)
			}

			go s.Start()

			<-cmd.Context().Done()
			s.Shutdown()
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "config", "c", "", "config file, defaults to $CONFIG_PATH")

	return cmd
}

func loadConfig(file string) (server.Config, error) {
	c := server.DefaultConfig()

	if file == "" {
		file = os.Getenv("CONFIG_PATH")
	}

	if err := config.Load(file, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
