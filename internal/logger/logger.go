// Package logger 基于 zerolog 的键值对结构化日志。
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 日志接口，kv 为交替的键值对
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志输出配置
type Options struct {
	Level      string
	Writer     []string // console / file
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type zlogger struct {
	z zerolog.Logger
}

// New 按配置创建日志器
func New(opts Options) Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	for _, w := range opts.Writer {
		switch strings.ToLower(w) {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
		case "file":
			file := opts.File
			if file == "" {
				file = "logs/netbridge.log"
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   file,
				MaxSize:    orDefault(opts.MaxSizeMB, 50),
				MaxBackups: orDefault(opts.MaxBackups, 5),
				MaxAge:     orDefault(opts.MaxAgeDays, 7),
				Compress:   true,
			})
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	z := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &zlogger{z: z}
}

// NewWriter 输出到指定 writer 的 JSON 日志器
func NewWriter(w io.Writer, level string) Logger {
	lv, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lv = zerolog.DebugLevel
	}
	return &zlogger{z: zerolog.New(w).Level(lv).With().Timestamp().Logger()}
}

// NewNop 丢弃所有日志
func NewNop() Logger {
	return &zlogger{z: zerolog.Nop()}
}

func (l *zlogger) Debug(msg string, kv ...any) { l.z.Debug().Fields(fields(kv)).Msg(msg) }

func (l *zlogger) Info(msg string, kv ...any) { l.z.Info().Fields(fields(kv)).Msg(msg) }

func (l *zlogger) Warn(msg string, kv ...any) { l.z.Warn().Fields(fields(kv)).Msg(msg) }

func (l *zlogger) Error(msg string, kv ...any) { l.z.Error().Fields(fields(kv)).Msg(msg) }

func (l *zlogger) Err(err error, msg string, kv ...any) {
	l.z.Error().Err(err).Fields(fields(kv)).Msg(msg)
}

func (l *zlogger) With(kv ...any) Logger {
	return &zlogger{z: l.z.With().Fields(fields(kv)).Logger()}
}

// fields 将键值对转换为 zerolog 字段，奇数个参数时最后一个值记为 !BADKEY
func fields(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]any, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if i+1 >= len(kv) {
			m["!BADKEY"] = kv[i]
			break
		}
		m[key] = kv[i+1]
	}
	return m
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}
