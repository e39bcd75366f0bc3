package main

import (
	"time"

	"channeldl/media"
	"github.com/sirupsen/logrus"
)

// Stats are the counters of a single run.
type Stats struct {
	TotalMessages int
	Videos        int
	Photos        int
	Documents     int
	Audio         int
	Skipped       int
	Errors        int
	FloodWaits    int
	FloodWaited   time.Duration
}

func (s *Stats) countDownload(kind media.Kind) {
	switch kind {
	case media.KindVideo:
		s.Videos++
	case media.KindPhoto:
		s.Photos++
	case media.KindDocument:
		s.Documents++
	case media.KindAudio:
		s.Audio++
	}
}

// Downloaded is the number of files fetched in this run.
func (s Stats) Downloaded() int {
	return s.Videos + s.Photos + s.Documents + s.Audio
}

func (s Stats) Print(logger logrus.FieldLogger) {
	logger.Infof("Statistics: total messages %d", s.TotalMessages)
	logger.Infof("   Videos: %d", s.Videos)
	logger.Infof("   Photos: %d", s.Photos)
	logger.Infof("   Documents: %d", s.Documents)
	logger.Infof("   Audio: %d", s.Audio)
	logger.Infof("   Skipped: %d", s.Skipped)
	logger.Infof("   Errors: %d", s.Errors)
	if s.FloodWaits > 0 {
		logger.Infof("   Rate limit waits: %d (%v)", s.FloodWaits, s.FloodWaited)
	}
}
