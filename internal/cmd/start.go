package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hoppxi/umbra/internal/logging"
	"github.com/hoppxi/umbra/internal/manager"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the brightness daemon",
	Run: func(cmd *cobra.Command, args []string) {
		if conn, err := manager.Manage.ConnectIPC(); err == nil {
			conn.Close()
			fmt.Println("Daemon already running.")
			return
		}

		cfg := manager.NewConfigManager(configPath)
		conf, err := cfg.Load()
		if err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}

		logCfg := logging.DefaultConfig()
		logCfg.Level = logging.ParseLevel(conf.Log.Level)
		logCfg.Format = conf.Log.Format
		log := logging.NewFromEnv(logCfg)

		if err := manager.Manage.Start(cfg, log); err != nil {
			log.Error().Err(err).Msg("failed to start daemon")
			os.Exit(1)
		}

		go func() {
			if err := manager.Manage.StartIPCServer(); err != nil {
				log.Error().Err(err).Msg("IPC server failed")
				manager.Manage.StopAll()
			}
		}()

		fmt.Println("Daemon started successfully. Press Ctrl+C to stop.")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
			fmt.Println("\nReceived shutdown signal, restoring displays and stopping watchers...")
			manager.Manage.StopAll()
		case <-manager.Manage.Stopped():
		}
	},
}
