package common

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

const defaultSessionFile = "session.json"

type FileSessionStorage struct {
	FilePath string
}

func (f FileSessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.FilePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

func (f FileSessionStorage) StoreSession(ctx context.Context, data []byte) error {
	return os.WriteFile(f.FilePath, data, 0600)
}

// FindSession returns the first *.json file in dir, or dir/session.json when
// the directory holds none yet.
func FindSession(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create session dir %s: %w", dir, err)
	}
	var found string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if filepath.Ext(path) == ".json" {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk session dir %s: %w", dir, err)
	}
	if found == "" {
		found = filepath.Join(dir, defaultSessionFile)
	}
	return found, nil
}

// cleanSession moves a rejected session aside so the next run logs in again.
func cleanSession(sessionPath string) error {
	if _, err := os.Stat(sessionPath); err != nil {
		return err
	}
	return os.Rename(sessionPath, sessionPath+".bak")
}

func NewDialer(proxyConnStr string) (proxy.Dialer, error) {
	diaURL, err := url.Parse(proxyConnStr)
	if err != nil {
		return nil, err
	}
	return proxy.FromURL(diaURL, proxy.Direct)
}

func MakeResolver(proxyConnStr string) (dcs.Resolver, error) {
	dialer, err := NewDialer(proxyConnStr)
	if err != nil {
		return nil, err
	}
	dc, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("proxy %s does not support dialing with context", proxyConnStr)
	}
	return dcs.Plain(dcs.PlainOptions{
		Dial: dc.DialContext,
	}), nil
}

// NewClient builds a gotd client bound to the session file in the config's
// session directory.
func NewClient(config *Config) (*telegram.Client, string, error) {
	sessionPath, err := FindSession(config.Login.SessionDir)
	if err != nil {
		return nil, "", err
	}
	opts := telegram.Options{
		SessionStorage: FileSessionStorage{FilePath: sessionPath},
	}
	if config.NET.UseProxy {
		resolver, err := MakeResolver(config.ProxyURL())
		if err != nil {
			return nil, "", fmt.Errorf("init proxy: %w", err)
		}
		opts.Resolver = resolver
	}
	return telegram.NewClient(config.Login.APIID, config.Login.APIHash, opts), sessionPath, nil
}

// Login runs the phone code flow when the stored session is not authorized.
// Missing phone number and the code are read from in.
func Login(ctx context.Context, client *telegram.Client, config *Config, in io.Reader, out io.Writer) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if status.Authorized {
		return nil
	}

	reader := bufio.NewReader(in)
	prompt := func(label string) (string, error) {
		fmt.Fprint(out, label)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	phone := config.Login.Phone
	if phone == "" {
		if phone, err = prompt("Phone number (international format): "); err != nil {
			return fmt.Errorf("read phone: %w", err)
		}
	}
	code := auth.CodeAuthenticatorFunc(func(ctx context.Context, sentCode *tg.AuthSentCode) (string, error) {
		return prompt("Login code: ")
	})
	flow := auth.NewFlow(auth.Constant(phone, config.Login.Password, code), auth.SendCodeOptions{})
	if err := client.Auth().IfNecessary(ctx, flow); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// Run connects, makes sure the account is logged in and hands the raw API to
// fn. The connection is closed when Run returns, whatever the reason.
func Run(ctx context.Context, config *Config, logger *logrus.Logger, fn func(ctx context.Context, api *tg.Client) error) error {
	client, sessionPath, err := NewClient(config)
	if err != nil {
		return err
	}

	err = client.Run(ctx, func(ctx context.Context) error {
		if err := Login(ctx, client, config, os.Stdin, os.Stdout); err != nil {
			return err
		}
		self, err := client.Self(ctx)
		if err != nil {
			return err
		}
		logger.Infof("Logged in as: %s (%d)", self.Username, self.ID)
		return fn(ctx, client.API())
	})

	var rpcErr *tgerr.Error
	if errors.As(err, &rpcErr) && rpcErr.Code == 401 {
		if cerr := cleanSession(sessionPath); cerr != nil {
			logger.Errorf("session rejected, failed to move it aside: %s|%v", sessionPath, cerr)
		} else {
			logger.Errorf("session rejected, moved to %s.bak", sessionPath)
		}
	}
	return err
}
