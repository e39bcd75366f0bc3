package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	cm "channeldl/common"
	dm "channeldl/db"
	"github.com/gotd/td/tg"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	configPath  string
	username    string
	gid         int64
	maxMessages int
	resumeFrom  int
)

func init() {
	flag.StringVar(&configPath, "c", "./conf.ini", "config file")
	flag.StringVar(&username, "name", "", "channel username, overrides [download] channel")
	flag.Int64Var(&gid, "id", 0, "channel id, for private channels")
	flag.IntVar(&maxMessages, "n", -1, "max messages to visit, 0 for all, overrides maxMessages")
	flag.IntVar(&resumeFrom, "s", -1, "only visit messages older than this id, overrides resumeFrom")
}

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	config := cm.NewConfig()
	if err := cm.LoadConfig(config, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", configPath, err)
		return 1
	}
	switch {
	case username != "":
		config.Download.Channel = username
	case gid != 0:
		config.Download.Channel = strconv.FormatInt(gid, 10)
	}
	if maxMessages >= 0 {
		config.Download.MaxMessages = maxMessages
	}
	if resumeFrom >= 0 {
		config.Download.ResumeFrom = resumeFrom
	}

	logger := cm.NewLogger(config.Common.LogPath, config.Common.LogSplitSize, true)
	if err := config.ValidateDownload(); err != nil {
		logger.Errorf("Configuration error: %v", err)
		return 1
	}
	target, err := cm.ParseTarget(config.Download.Channel)
	if err != nil {
		logger.Errorf("Configuration error: %v", err)
		return 1
	}

	index, err := dm.Open(config.DB.DBPath)
	if err != nil {
		logger.Errorf("Open index %s: %v", config.DB.DBPath, err)
		return 1
	}
	defer index.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Initializing Telegram client...")
	var dl *Downloader
	err = cm.Run(ctx, config, logger, func(ctx context.Context, api *tg.Client) error {
		walker := &cm.DialogWalker{
			API:       api,
			Limiter:   rate.NewLimiter(rate.Every(800*time.Millisecond), 1),
			Retry:     cm.FloodRetry{Max: config.Download.FloodRetries, Logger: logger},
			BatchSize: 100,
		}
		channel, err := cm.ResolveChannel(ctx, api, walker, target)
		if err != nil {
			logger.Errorf("Error accessing channel %s: %v, make sure you've joined it and the reference is correct", target, err)
			return err
		}
		logger.Infof("Channel found: %s (%d)", channel.Title, channel.ID)

		opts := OptionsFromConfig(config)
		if config.Download.UseCheckpoint && opts.ResumeFrom == 0 {
			cp, ok, err := index.LoadCheckpoint(ctx, channel.ID)
			if err != nil {
				logger.Warnf("load checkpoint of %d: %v", channel.ID, err)
			} else if ok {
				opts.ResumeFrom = cp.LastMid
			}
		}

		dl = NewDownloader(opts, channel, api, NewFetcher(api, config.Download.PartSize*1024), index, logger)
		dl.progress = os.Stdout
		if err := dl.CreateFolders(); err != nil {
			return err
		}
		logger.Infof("Starting download from: %s", channel.Title)
		return dl.Run(ctx)
	})

	switch {
	case err == nil:
		logger.Info("Download complete!")
		dl.Stats().Print(logger)
		return 0
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		logger.Warn("Download interrupted by user")
		if dl != nil {
			reportResume(logger, dl)
			dl.Stats().Print(logger)
		}
		return 0
	default:
		logger.Errorf("Error during download: %v", err)
		if dl != nil {
			dl.Stats().Print(logger)
		}
		return 1
	}
}

// reportResume prints both the ordinal count of visited messages and the id
// of the last finished message. Only the id is a valid resumeFrom value.
func reportResume(logger logrus.FieldLogger, dl *Downloader) {
	stats := dl.Stats()
	logger.Infof("Messages processed: %d", stats.TotalMessages)
	last := dl.LastMessageID()
	if last == 0 {
		logger.Info("No message finished, rerun with the same settings to start over")
		return
	}
	logger.Infof("Last processed message ID: %d", last)
	logger.Infof("You can resume by setting resumeFrom = %d in the config, or useCheckpoint = true", last)
}
