package common

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// writerHook copies entries at or above maxLevel severity to Writer.
type writerHook struct {
	Writer    io.Writer
	Formatter logrus.Formatter
	maxLevel  logrus.Level
}

func (hook *writerHook) Fire(entry *logrus.Entry) error {
	// logrus orders levels from panic (0) to trace, lower is more severe
	if entry.Level > hook.maxLevel {
		return nil
	}
	line, err := hook.Formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = hook.Writer.Write(line)
	return err
}

func (hook *writerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// CustomFormatter renders "time - LEVEL - message [k=v ...]".
type CustomFormatter struct {
	UseColor bool
}

func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("2006-01-02 15:04:05,000")
	level := strings.ToUpper(entry.Level.String())
	message := strings.TrimRight(entry.Message, "\n")

	// color only the level, files get plain text
	levelPart := level
	if f.UseColor {
		switch entry.Level {
		case logrus.DebugLevel, logrus.TraceLevel:
			levelPart = color.BlueString(level)
		case logrus.InfoLevel:
			levelPart = color.GreenString(level)
		case logrus.WarnLevel:
			levelPart = color.YellowString(level)
		case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
			levelPart = color.RedString(level)
		}
	}

	// fields follow the message sorted by key so lines are stable
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s - %s - %s", timestamp, levelPart, message)
	for _, k := range sortedKeys(entry.Data) {
		fmt.Fprintf(&sb, " %s=%v", k, entry.Data[k])
	}
	sb.WriteByte('\n')
	return []byte(sb.String()), nil
}

func sortedKeys(data logrus.Fields) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewLogger logs everything to stdout and warnings and above to a rotating file.
func NewLogger(logPath string, logSize int, useColor bool) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel) // lowest level recorded

	// 1. console: every level, colored
	log.SetFormatter(&CustomFormatter{UseColor: useColor})
	log.SetOutput(os.Stdout)

	// 2. file: warnings and above, rotated by size

	if logPath == "" {
		return log
	}
	fileLogger := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logSize, // MB per file
		MaxBackups: 7,       // keep 7 rotated files
		MaxAge:     7,       // days
		Compress:   false,
		LocalTime:  true, // rotated names use local time
	}
	// same layout as the console, without colors
	log.AddHook(&writerHook{
		Writer:    fileLogger,
		Formatter: &CustomFormatter{UseColor: false},
		maxLevel:  logrus.WarnLevel,
	})
	return log
}
