package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	cm "channeldl/common"
	dm "channeldl/db"
	"channeldl/media"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/sirupsen/logrus"
)

const statsEvery = 10

type HistoryAPI interface {
	MessagesGetHistory(ctx context.Context, request *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
}

// Fetcher streams the file behind loc into w.
type Fetcher interface {
	Fetch(ctx context.Context, loc tg.InputFileLocationClass, w io.Writer) error
}

// Index is where finished downloads and resume points are recorded.
type Index interface {
	AddFile(ctx context.Context, file *dm.File) error
	SaveCheckpoint(ctx context.Context, cp dm.Checkpoint) error
}

type gotdFetcher struct {
	api downloader.Client
	dl  *downloader.Downloader
}

// NewFetcher downloads through upload.getFile in partSize chunks.
func NewFetcher(api downloader.Client, partSize int) Fetcher {
	return gotdFetcher{api: api, dl: downloader.NewDownloader().WithPartSize(partSize)}
}

func (f gotdFetcher) Fetch(ctx context.Context, loc tg.InputFileLocationClass, w io.Writer) error {
	_, err := f.dl.Download(f.api, loc).Stream(ctx, w)
	return err
}

// Options is the immutable configuration of one run.
type Options struct {
	Root         string
	Toggles      media.Toggles
	MaxMessages  int // 0 means no limit
	ResumeFrom   int // only messages with a smaller id are visited, 0 starts at the newest
	SaveMetadata bool
	MessageDelay time.Duration
	BatchSize    int
	FloodRetries int // 0 means wait and retry for as long as Telegram asks
}

func OptionsFromConfig(config *cm.Config) Options {
	d := config.Download
	return Options{
		Root: d.DataDir,
		Toggles: media.Toggles{
			Videos:    d.Videos,
			Photos:    d.Photos,
			Documents: d.Documents,
			Audio:     d.Audio,
		},
		MaxMessages:  d.MaxMessages,
		ResumeFrom:   d.ResumeFrom,
		SaveMetadata: d.SaveMetadata,
		MessageDelay: d.MessageDelay,
		BatchSize:    d.BatchSize,
		FloodRetries: d.FloodRetries,
	}
}

// Downloader walks one channel's history and saves its media.
type Downloader struct {
	opts    Options
	channel *cm.ChannelInfo
	history HistoryAPI
	fetcher Fetcher
	index   Index // may be nil
	logger  logrus.FieldLogger

	sleep    cm.Sleeper
	progress io.Writer // nil disables the progress bar

	stats  Stats
	lastID int
}

func NewDownloader(opts Options, channel *cm.ChannelInfo, history HistoryAPI, fetcher Fetcher, index Index, logger logrus.FieldLogger) *Downloader {
	if opts.BatchSize <= 0 || opts.BatchSize > 100 {
		opts.BatchSize = 100
	}
	return &Downloader{
		opts:    opts,
		channel: channel,
		history: history,
		fetcher: fetcher,
		index:   index,
		logger:  logger,
		sleep:   cm.Sleep,
	}
}

func (d *Downloader) Stats() Stats {
	return d.stats
}

// LastMessageID is the id of the last fully processed message, 0 before the first.
func (d *Downloader) LastMessageID() int {
	return d.lastID
}

func (d *Downloader) retry() cm.FloodRetry {
	return cm.FloodRetry{
		Max:    d.opts.FloodRetries,
		Sleep:  d.sleep,
		Logger: d.logger,
		OnWait: func(wait time.Duration) {
			d.stats.FloodWaits++
			d.stats.FloodWaited += wait
		},
	}
}

// CreateFolders makes the per kind and metadata folders, existing ones are fine.
func (d *Downloader) CreateFolders() error {
	for _, dir := range media.Folders(d.opts.Root) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	d.logger.Infof("Download folder ready: %s", d.opts.Root)
	return nil
}

// Run visits messages from newest to oldest, starting below ResumeFrom. It
// returns ctx.Err() when interrupted.
func (d *Downloader) Run(ctx context.Context) error {
	d.stats = Stats{}
	offset := d.opts.ResumeFrom
	if offset > 0 {
		d.logger.Infof("Resuming below message id %d", offset)
	}

	for {
		msgs, err := d.page(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("get history of %d below %d: %w", d.channel.ID, offset, err)
		}
		if len(msgs) == 0 {
			return nil
		}

		next := offset
		for _, m := range msgs {
			next = m.GetID()
			msg, ok := media.FromTG(m)
			if !ok {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			d.stats.TotalMessages++
			if err := d.Process(ctx, msg); err != nil {
				return err
			}
			d.lastID = msg.ID
			d.checkpoint(ctx)

			if d.stats.TotalMessages%statsEvery == 0 {
				d.stats.Print(d.logger)
			}
			if d.opts.MaxMessages > 0 && d.stats.TotalMessages >= d.opts.MaxMessages {
				return nil
			}
			if err := d.sleep(ctx, d.opts.MessageDelay); err != nil {
				return err
			}
		}
		if next == offset {
			return nil
		}
		offset = next
	}
}

func (d *Downloader) page(ctx context.Context, offset int) ([]tg.MessageClass, error) {
	var history tg.MessagesMessagesClass
	err := d.retry().Do(ctx, "get history", func(ctx context.Context) error {
		var err error
		history, err = d.history.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     d.channel.InputPeer(),
			OffsetID: offset,
			Limit:    d.opts.BatchSize,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	switch resp := history.(type) {
	case *tg.MessagesChannelMessages:
		return resp.Messages, nil
	case *tg.MessagesMessagesSlice:
		return resp.Messages, nil
	case *tg.MessagesMessages:
		return resp.Messages, nil
	case *tg.MessagesMessagesNotModified:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected history response: %T", history)
	}
}

func (d *Downloader) checkpoint(ctx context.Context) {
	if d.index == nil {
		return
	}
	cp := dm.Checkpoint{Gid: d.channel.ID, LastMid: d.lastID, Count: d.stats.TotalMessages}
	if err := d.index.SaveCheckpoint(ctx, cp); err != nil {
		d.logger.Warnf("checkpoint|%v", err)
	}
}

// Process downloads the media of msg, if any, and writes its sidecar. Only
// interruption is returned as an error, download failures are counted.
func (d *Downloader) Process(ctx context.Context, msg *media.Message) error {
	path := d.DownloadMedia(ctx, msg)
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.opts.SaveMetadata {
		return nil
	}
	if _, err := media.WriteMetadata(d.opts.Root, media.NewMetadata(msg, path)); err != nil {
		d.logger.Errorf("Error saving metadata of message %d: %v", msg.ID, err)
		d.stats.Errors++
	}
	return nil
}

// DownloadMedia returns the local path of the message's media, "" when it has
// none worth keeping or the download failed.
func (d *Downloader) DownloadMedia(ctx context.Context, msg *media.Message) string {
	kind := media.Classify(msg.Media, d.opts.Toggles)
	if kind == media.KindNone {
		return ""
	}
	path := media.Path(d.opts.Root, msg, kind)
	if _, err := os.Stat(path); err == nil {
		d.logger.Infof("Skipping (already exists): %s", path)
		d.stats.Skipped++
		return path
	}

	d.logger.Infof("Downloading %s: %s", kind, path)
	err := d.retry().Do(ctx, fmt.Sprintf("download message %d", msg.ID), func(ctx context.Context) error {
		return d.fetchTo(ctx, msg.Media, path)
	})
	if err != nil {
		// interruption is reported by Run, not counted as a failure
		if ctx.Err() == nil {
			d.logger.Errorf("Error downloading media from message %d: %v", msg.ID, err)
			d.stats.Errors++
		}
		return ""
	}
	d.stats.countDownload(kind)

	if d.index != nil {
		var size int64
		if fi, err := os.Stat(path); err == nil {
			size = fi.Size()
		}
		file := &dm.File{
			Gid:   d.channel.ID,
			Mid:   msg.ID,
			Kind:  string(kind),
			Dname: filepath.Base(path),
			Fpath: path,
			Fsize: size,
			Ftime: msg.Date.Format(time.DateTime),
			Msg:   msg.Text,
		}
		if err := d.index.AddFile(ctx, file); err != nil {
			d.logger.Warnf("index|%v", err)
		}
	}
	return path
}

// fetchTo writes into path.part and renames it on success so that a partial
// file is never mistaken for a finished one.
func (d *Downloader) fetchTo(ctx context.Context, m *media.Media, path string) error {
	tmp := path + ".part"
	of, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := &cm.ProgressWriter{W: of, Out: d.progress, Total: m.Size}
	err = d.fetcher.Fetch(ctx, m.Location, w)
	if cerr := of.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
