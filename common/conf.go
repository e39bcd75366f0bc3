package common

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/telegram"
	"gopkg.in/ini.v1"
)

const (
	placeholderAPIHash = "YOUR_API_HASH"
	placeholderChannel = "channelname"
)

var (
	ErrNoCredentials = errors.New("apiID and apiHash are not set, get them from https://my.telegram.org")
	ErrNoChannel     = errors.New("download channel is not set, use a channel id or @username")
)

type Config struct {
	Login struct {
		APIID      int    `ini:"apiID"`
		APIHash    string `ini:"apiHash"`
		SessionDir string `ini:"sessionDir"`
		Phone      string `ini:"phone"`
		Password   string `ini:"password"`
	} `ini:"login"`

	Download struct {
		Channel       string        `ini:"channel"`
		DataDir       string        `ini:"dataDir"`
		Videos        bool          `ini:"videos"`
		Photos        bool          `ini:"photos"`
		Documents     bool          `ini:"documents"`
		Audio         bool          `ini:"audio"`
		MaxMessages   int           `ini:"maxMessages"` // 0 means the whole history
		ResumeFrom    int           `ini:"resumeFrom"`  // only messages older than this id
		UseCheckpoint bool          `ini:"useCheckpoint"`
		SaveMetadata  bool          `ini:"saveMetadata"`
		MessageDelay  time.Duration `ini:"messageDelay"`
		BatchSize     int           `ini:"batchSize"`    // 1-100
		FloodRetries  int           `ini:"floodRetries"` // 0 retries forever
		PartSize      int           `ini:"partSize"`     // KB, multiple of 4
	} `ini:"download"`

	NET struct {
		UseProxy  bool   `ini:"useProxy"`
		ProxyHost string `ini:"proxyHost"`
		ProxyPort int    `ini:"proxyPort"`
	} `ini:"net"`

	DB struct {
		DBPath string `ini:"dbPath"`
	} `ini:"database"`

	Common struct {
		LogPath      string `ini:"logPath"`
		LogSplitSize int    `ini:"logSplitSize"`
	} `ini:"common"`
}

// NewConfig returns a config carrying the defaults used when a key is absent.
func NewConfig() *Config {
	config := new(Config)
	config.Login.SessionDir = "./session"
	config.Download.DataDir = "./downloads"
	config.Download.Videos = true
	config.Download.Photos = true
	config.Download.Documents = true
	config.Download.Audio = true
	config.Download.SaveMetadata = true
	config.Download.MessageDelay = 500 * time.Millisecond
	config.Download.BatchSize = 100
	config.Download.FloodRetries = 5
	config.Download.PartSize = 512
	config.DB.DBPath = "./data/files.db"
	config.Common.LogPath = "./log/download.log"
	config.Common.LogSplitSize = 2
	return config
}

func LoadConfig(config *Config, path string) error {
	err := ini.MapTo(config, path)
	if err != nil {
		return err
	}

	// login
	if config.Login.APIID == -1 {
		config.Login.APIID = telegram.TestAppID
		config.Login.APIHash = telegram.TestAppHash
	}

	// download
	if config.Download.BatchSize <= 0 || config.Download.BatchSize > 100 {
		config.Download.BatchSize = 100
	}
	if config.Download.MaxMessages < 0 {
		config.Download.MaxMessages = 0
	}
	if config.Download.ResumeFrom < 0 {
		config.Download.ResumeFrom = 0
	}
	if config.Download.FloodRetries < 0 {
		config.Download.FloodRetries = 0
	}
	if config.Download.MessageDelay < 0 {
		config.Download.MessageDelay = 0
	}
	// upload.getFile wants a power-of-two part that divides 1MB
	if p := config.Download.PartSize; p < 4 || p > 1024 || p&(p-1) != 0 {
		config.Download.PartSize = 512
	}

	// common
	if config.Common.LogSplitSize <= 0 {
		config.Common.LogSplitSize = 2
	}
	return nil
}

// ValidateCredentials rejects unset or placeholder api credentials.
func (c *Config) ValidateCredentials() error {
	hash := strings.TrimSpace(c.Login.APIHash)
	if c.Login.APIID == 0 || hash == "" || hash == placeholderAPIHash {
		return ErrNoCredentials
	}
	return nil
}

// ValidateDownload checks everything the downloader needs before connecting.
func (c *Config) ValidateDownload() error {
	if err := c.ValidateCredentials(); err != nil {
		return err
	}
	ch := strings.TrimSpace(c.Download.Channel)
	if ch == "" || ch == placeholderChannel {
		return ErrNoChannel
	}
	if c.Download.DataDir == "" {
		return fmt.Errorf("dataDir is empty")
	}
	return nil
}

// ProxyURL is the socks5 url built from the [net] section.
func (c *Config) ProxyURL() string {
	return "socks5://" + c.NET.ProxyHost + ":" + strconv.Itoa(c.NET.ProxyPort)
}
