package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	cm "channeldl/common"
	dm "channeldl/db"
	"channeldl/media"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDate = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

// fakeHistory serves messages newest first below OffsetID, like messages.getHistory.
type fakeHistory struct {
	msgs     []tg.MessageClass
	requests []*tg.MessagesGetHistoryRequest
}

func (f *fakeHistory) MessagesGetHistory(ctx context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
	f.requests = append(f.requests, req)
	sorted := append([]tg.MessageClass(nil), f.msgs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].GetID() > sorted[j].GetID() })

	var page []tg.MessageClass
	for _, m := range sorted {
		if req.OffsetID != 0 && m.GetID() >= req.OffsetID {
			continue
		}
		if len(page) == req.Limit {
			break
		}
		page = append(page, m)
	}
	return &tg.MessagesChannelMessages{Messages: page}, nil
}

// fakeFetcher keys behaviour by the document id of the location.
type fakeFetcher struct {
	calls  map[int64]int
	errs   map[int64][]error // popped per call, nil entry means success
	cancel context.CancelFunc
	// cancelOn cancels the run while fetching this id
	cancelOn int64
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: map[int64]int{}, errs: map[int64][]error{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, loc tg.InputFileLocationClass, w io.Writer) error {
	var id int64
	switch l := loc.(type) {
	case *tg.InputDocumentFileLocation:
		id = l.ID
	case *tg.InputPhotoFileLocation:
		id = l.ID
	}
	f.calls[id]++
	if f.cancelOn == id && f.cancel != nil {
		f.cancel()
		return ctx.Err()
	}
	if errs := f.errs[id]; len(errs) > 0 {
		err := errs[0]
		f.errs[id] = errs[1:]
		if err != nil {
			return err
		}
	}
	_, err := w.Write([]byte("media-bytes"))
	return err
}

type memIndex struct {
	files       []*dm.File
	checkpoints []dm.Checkpoint
}

func (m *memIndex) AddFile(ctx context.Context, file *dm.File) error {
	m.files = append(m.files, file)
	return nil
}

func (m *memIndex) SaveCheckpoint(ctx context.Context, cp dm.Checkpoint) error {
	m.checkpoints = append(m.checkpoints, cp)
	return nil
}

type sleeps struct {
	waits []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func videoMsg(id int) *tg.Message {
	return &tg.Message{
		ID:   id,
		Date: int(testDate.Unix()) + id,
		Media: &tg.MessageMediaDocument{Document: &tg.Document{
			ID:         int64(id),
			MimeType:   "video/mp4",
			Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{W: 640, H: 360}},
		}},
	}
}

func documentMsg(id int, mime string, attrs ...tg.DocumentAttributeClass) *tg.Message {
	return &tg.Message{
		ID:   id,
		Date: int(testDate.Unix()),
		Media: &tg.MessageMediaDocument{Document: &tg.Document{
			ID:         int64(id),
			MimeType:   mime,
			Attributes: attrs,
		}},
	}
}

func photoMsg(id int) *tg.Message {
	return &tg.Message{
		ID:   id,
		Date: int(testDate.Unix()),
		Media: &tg.MessageMediaPhoto{Photo: &tg.Photo{
			ID:    int64(id),
			Sizes: []tg.PhotoSizeClass{&tg.PhotoSize{Type: "x", W: 800, H: 600, Size: 11}},
		}},
	}
}

type harness struct {
	root    string
	history *fakeHistory
	fetcher *fakeFetcher
	index   *memIndex
	sleeps  *sleeps
}

func newHarness(t *testing.T, msgs ...tg.MessageClass) *harness {
	return &harness{
		root:    filepath.Join(t.TempDir(), "downloads"),
		history: &fakeHistory{msgs: msgs},
		fetcher: newFakeFetcher(),
		index:   &memIndex{},
		sleeps:  &sleeps{},
	}
}

func (h *harness) options() Options {
	return Options{
		Root:         h.root,
		Toggles:      media.AllKinds(),
		SaveMetadata: true,
		MessageDelay: 500 * time.Millisecond,
		BatchSize:    2,
	}
}

func (h *harness) downloader(t *testing.T, opts Options) *Downloader {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	channel := &cm.ChannelInfo{ID: 3089670048, Title: "test", Hash: 1}
	dl := NewDownloader(opts, channel, h.history, h.fetcher, h.index, logger)
	dl.sleep = h.sleeps.sleep
	require.NoError(t, dl.CreateFolders())
	return dl
}

func TestRun_VideoScenario(t *testing.T) {
	h := newHarness(t, &tg.Message{
		ID:   42,
		Date: int(testDate.Unix()),
		Media: &tg.MessageMediaDocument{Document: &tg.Document{
			ID:         42,
			MimeType:   "video/mp4",
			Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{}},
		}},
	})
	dl := h.downloader(t, h.options())

	require.NoError(t, dl.Run(context.Background()))

	videoPath := filepath.Join(h.root, "videos", "20240101_100000_msg42.mp4")
	data, err := os.ReadFile(videoPath)
	require.NoError(t, err)
	assert.Equal(t, "media-bytes", string(data))
	assert.NoFileExists(t, videoPath+".part")

	md, err := media.ReadMetadata(filepath.Join(h.root, "metadata", "msg42_metadata.json"))
	require.NoError(t, err)
	assert.Equal(t, 42, md.MessageID)
	require.NotNil(t, md.MediaPath)
	assert.Equal(t, videoPath, *md.MediaPath)
	assert.True(t, md.HasMedia)

	stats := dl.Stats()
	assert.Equal(t, 1, stats.TotalMessages)
	assert.Equal(t, 1, stats.Videos)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 42, dl.LastMessageID())

	require.Len(t, h.index.files, 1)
	assert.Equal(t, "20240101_100000_msg42.mp4", h.index.files[0].Dname)
	assert.Equal(t, int64(len("media-bytes")), h.index.files[0].Fsize)
	assert.Equal(t, "video", h.index.files[0].Kind)
}

func TestRun_RerunSkipsExisting(t *testing.T) {
	h := newHarness(t, videoMsg(3), photoMsg(2), documentMsg(1, "application/pdf"))
	require.NoError(t, h.downloader(t, h.options()).Run(context.Background()))

	second := h.downloader(t, h.options())
	require.NoError(t, second.Run(context.Background()))

	stats := second.Stats()
	assert.Equal(t, 3, stats.TotalMessages)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 0, stats.Downloaded())
	for id, n := range h.fetcher.calls {
		assert.Equal(t, 1, n, "message %d fetched more than once", id)
	}

	for _, k := range media.Kinds {
		entries, err := os.ReadDir(filepath.Join(h.root, k.Folder()))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(entries), 1, "%s", k)
	}

	// skipped media still lands in the regenerated sidecar
	md, err := media.ReadMetadata(filepath.Join(h.root, "metadata", "msg2_metadata.json"))
	require.NoError(t, err)
	require.NotNil(t, md.MediaPath)
	assert.Equal(t, filepath.Join(h.root, "photos", "20240101_100000_msg2.jpg"), *md.MediaPath)
}

func TestRun_FloodWaitRetriesSameMessage(t *testing.T) {
	h := newHarness(t, videoMsg(99))
	h.fetcher.errs[99] = []error{&tgerr.Error{Code: 420, Type: "FLOOD_WAIT", Message: "FLOOD_WAIT_5", Argument: 5}}
	dl := h.downloader(t, h.options())

	require.NoError(t, dl.Run(context.Background()))

	assert.Equal(t, 2, h.fetcher.calls[99])
	require.NotEmpty(t, h.sleeps.waits)
	assert.Equal(t, 5*time.Second, h.sleeps.waits[0])

	stats := dl.Stats()
	assert.Equal(t, 1, stats.Videos)
	assert.Equal(t, 0, stats.Errors)
	assert.Equal(t, 1, stats.FloodWaits)
	assert.Equal(t, 5*time.Second, stats.FloodWaited)
}

func TestRun_FloodWaitBounded(t *testing.T) {
	h := newHarness(t, videoMsg(99), videoMsg(98))
	flood := &tgerr.Error{Code: 420, Type: "FLOOD_WAIT", Message: "FLOOD_WAIT_1", Argument: 1}
	h.fetcher.errs[99] = []error{flood, flood, flood}
	opts := h.options()
	opts.FloodRetries = 2
	dl := h.downloader(t, opts)

	require.NoError(t, dl.Run(context.Background()))

	assert.Equal(t, 3, h.fetcher.calls[99])
	stats := dl.Stats()
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Videos)
	assert.Equal(t, 2, stats.FloodWaits)
}

func TestRun_ErrorsAreCountedAndSkipped(t *testing.T) {
	h := newHarness(t, videoMsg(3), videoMsg(2), videoMsg(1))
	h.fetcher.errs[2] = []error{errors.New("FILE_REFERENCE_EXPIRED")}
	dl := h.downloader(t, h.options())

	require.NoError(t, dl.Run(context.Background()))

	stats := dl.Stats()
	assert.Equal(t, 3, stats.TotalMessages)
	assert.Equal(t, 2, stats.Videos)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, h.fetcher.calls[2])

	failed := filepath.Join(h.root, "videos", media.FileName(testDate.Add(2*time.Second), 2, ".mp4"))
	assert.NoFileExists(t, failed)
	assert.NoFileExists(t, failed+".part")

	md, err := media.ReadMetadata(filepath.Join(h.root, "metadata", "msg2_metadata.json"))
	require.NoError(t, err)
	assert.Nil(t, md.MediaPath)
	assert.True(t, md.HasMedia)
}

func TestRun_ClassifiesAndNames(t *testing.T) {
	h := newHarness(t,
		documentMsg(5, "audio/mpeg"),
		documentMsg(4, "application/zip", &tg.DocumentAttributeFilename{FileName: "backup.zip"}),
		documentMsg(3, "application/octet-stream"),
		photoMsg(2),
		&tg.Message{ID: 1, Date: int(testDate.Unix()), Message: "just text"},
	)
	dl := h.downloader(t, h.options())
	require.NoError(t, dl.Run(context.Background()))

	for _, p := range []string{
		filepath.Join("audio", "20240101_100000_msg5.mp3"),
		filepath.Join("documents", "20240101_100000_msg4.zip"),
		filepath.Join("documents", "20240101_100000_msg3.bin"),
		filepath.Join("photos", "20240101_100000_msg2.jpg"),
	} {
		assert.FileExists(t, filepath.Join(h.root, p))
	}

	stats := dl.Stats()
	assert.Equal(t, 5, stats.TotalMessages)
	assert.Equal(t, 1, stats.Audio)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, 1, stats.Photos)

	md, err := media.ReadMetadata(filepath.Join(h.root, "metadata", "msg1_metadata.json"))
	require.NoError(t, err)
	assert.Equal(t, "just text", md.Text)
	assert.False(t, md.HasMedia)
	assert.Nil(t, md.MediaPath)
}

func TestRun_DelayAfterEveryMessage(t *testing.T) {
	h := newHarness(t, videoMsg(2), &tg.Message{ID: 1, Date: int(testDate.Unix())})
	dl := h.downloader(t, h.options())
	require.NoError(t, dl.Run(context.Background()))

	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, h.sleeps.waits)
}

func TestRun_MaxMessagesAndResume(t *testing.T) {
	var msgs []tg.MessageClass
	for id := 10; id >= 1; id-- {
		msgs = append(msgs, &tg.Message{ID: id, Date: int(testDate.Unix())})
	}
	h := newHarness(t, msgs...)
	opts := h.options()
	opts.MaxMessages = 3
	opts.ResumeFrom = 8
	dl := h.downloader(t, opts)

	require.NoError(t, dl.Run(context.Background()))

	assert.Equal(t, 3, dl.Stats().TotalMessages)
	assert.Equal(t, 5, dl.LastMessageID())
	assert.Equal(t, 8, h.history.requests[0].OffsetID)
	assert.Equal(t, 6, h.history.requests[1].OffsetID)
	assert.FileExists(t, media.MetadataPath(h.root, 7))
	assert.NoFileExists(t, media.MetadataPath(h.root, 8))
	assert.NoFileExists(t, media.MetadataPath(h.root, 4))

	require.NotEmpty(t, h.index.checkpoints)
	last := h.index.checkpoints[len(h.index.checkpoints)-1]
	assert.Equal(t, dm.Checkpoint{Gid: 3089670048, LastMid: 5, Count: 3}, last)
}

func TestRun_SkipsServiceMessages(t *testing.T) {
	h := newHarness(t, &tg.Message{ID: 3, Date: int(testDate.Unix())}, &tg.MessageService{ID: 2}, &tg.Message{ID: 1, Date: int(testDate.Unix())})
	dl := h.downloader(t, h.options())
	require.NoError(t, dl.Run(context.Background()))

	assert.Equal(t, 2, dl.Stats().TotalMessages)
	assert.NoFileExists(t, media.MetadataPath(h.root, 2))
}

func TestRun_Interrupted(t *testing.T) {
	h := newHarness(t, videoMsg(3), videoMsg(2), videoMsg(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fetcher.cancel = cancel
	h.fetcher.cancelOn = 2
	dl := h.downloader(t, h.options())

	err := dl.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	stats := dl.Stats()
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Equal(t, 1, stats.Videos)
	assert.Equal(t, 0, stats.Errors)
	// message 2 was not finished, so resume must start below 3
	assert.Equal(t, 3, dl.LastMessageID())
	assert.Zero(t, h.fetcher.calls[1])
	assert.NoFileExists(t, media.MetadataPath(h.root, 2))
}

func TestRun_NoMetadata(t *testing.T) {
	h := newHarness(t, videoMsg(1))
	opts := h.options()
	opts.SaveMetadata = false
	dl := h.downloader(t, opts)
	require.NoError(t, dl.Run(context.Background()))

	assert.NoFileExists(t, media.MetadataPath(h.root, 1))
	assert.Equal(t, 1, dl.Stats().Videos)
}

func TestOptionsFromConfig(t *testing.T) {
	config := cm.NewConfig()
	config.Download.DataDir = "/data"
	config.Download.Audio = false
	config.Download.MaxMessages = 50

	opts := OptionsFromConfig(config)
	assert.Equal(t, "/data", opts.Root)
	assert.Equal(t, media.Toggles{Videos: true, Photos: true, Documents: true}, opts.Toggles)
	assert.Equal(t, 50, opts.MaxMessages)
	assert.Equal(t, 500*time.Millisecond, opts.MessageDelay)
	assert.True(t, opts.SaveMetadata)
	assert.Equal(t, 5, opts.FloodRetries)
}
