package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cm "channeldl/common"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"
)

var (
	configPath string
	csvPath    string
)

func init() {
	flag.StringVar(&configPath, "c", "./conf.ini", "config file")
	flag.StringVar(&csvPath, "csv", "", "also export the channel list to this csv file")
}

func main() {
	flag.Parse()

	config := cm.NewConfig()
	if err := cm.LoadConfig(config, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", configPath, err)
		os.Exit(1)
	}
	logger := cm.NewLogger(config.Common.LogPath, config.Common.LogSplitSize, true)
	if err := config.ValidateCredentials(); err != nil {
		logger.Errorf("Configuration error: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cm.Run(ctx, config, logger, func(ctx context.Context, api *tg.Client) error {
		walker := &cm.DialogWalker{
			API:       api,
			Limiter:   rate.NewLimiter(rate.Every(800*time.Millisecond), 1),
			Retry:     cm.FloodRetry{Max: config.Download.FloodRetries, Logger: logger},
			BatchSize: 100,
		}
		channels, err := walker.Channels(ctx)
		if err != nil {
			return err
		}
		PrintChannels(os.Stdout, channels)
		if csvPath != "" {
			if err := ExportCSV(csvPath, channels); err != nil {
				return fmt.Errorf("export csv %s: %w", csvPath, err)
			}
			logger.Infof("Exported %d channels >>> %s", len(channels), csvPath)
		}
		return nil
	})
	if err != nil {
		logger.Errorf("List channels: %v", err)
		stop()
		os.Exit(1)
	}
}
