package logging

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

var std = logrus.New()

// Init 根据配置或环境变量初始化日志级别与格式
// level 支持：DEBUG / INFO / WARN / ERROR（不区分大小写），默认 INFO；
// format 支持：text / json，默认 text。
func Init(level, format string) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		std.SetLevel(logrus.DebugLevel)
	case "WARN", "WARNING":
		std.SetLevel(logrus.WarnLevel)
	case "ERROR":
		std.SetLevel(logrus.ErrorLevel)
	default:
		std.SetLevel(logrus.InfoLevel)
	}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		std.SetFormatter(&logrus.JSONFormatter{})
	} else {
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// Logger exposes the underlying logger for libraries that want a Printf sink.
func Logger() *logrus.Logger {
	return std
}

// WithFields returns an entry carrying structured fields.
func WithFields(fields map[string]any) *logrus.Entry {
	return std.WithFields(logrus.Fields(fields))
}

func Debugf(format string, args ...any) {
	std.Debugf(format, args...)
}

func Infof(format string, args ...any) {
	std.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	std.Warnf(format, args...)
}

// Errorf 总是输出（ERROR 级别以下的配置均可见）
func Errorf(format string, args ...any) {
	std.Errorf(format, args...)
}
