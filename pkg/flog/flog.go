// Package flog is the process-wide console logger. It keeps the call
// shape of a small hand-rolled colored logger (Debug/Info/Warn/Error/
// Success/Fatal/Section/Banner as package-level functions backed by one
// default logger) but is built on zerolog's ConsoleWriter instead of
// log.Logger, so structured fields and level filtering come for free.
package flog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// successFieldKey is the field Success adds to an info-level event. The
// console writer's FormatLevel only sees the level, so such a line is
// still labeled "INFO"; the field itself (flog_success=1) is what marks
// it apart.
const successFieldKey = "flog_success"

var base zerolog.Logger

func init() {
	Reset(os.Stderr)
}

// Reset rebuilds the default logger against w, used by tests and by
// callers that want logs redirected away from stderr.
func Reset(w io.Writer) {
	cw := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
		FormatLevel: func(i interface{}) string {
			level, _ := i.(string)
			switch level {
			case "debug":
				return colorize("DEBUG", colorGray)
			case "info":
				return colorize("INFO", colorWhite)
			case "warn":
				return colorize("WARN", colorYellow)
			case "error":
				return colorize("ERROR", colorRed)
			case "fatal":
				return colorize("FATAL", colorRed)
			default:
				return strings.ToUpper(level)
			}
		},
	}
	base = zerolog.New(cw).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// SetLevel sets the minimum level that reaches the writer. Accepts the
// same level constants zerolog defines (zerolog.DebugLevel, etc).
func SetLevel(level zerolog.Level) {
	base = base.Level(level)
}

// SetTimeFormat is kept for API parity with the hand-rolled logger this
// package replaces. zerolog's ConsoleWriter reads the format at
// construction time, so this rebuilds the default logger against w with
// the new format, keeping the current level; the rebuilt writer uses
// zerolog's default level labels, not Reset's colored ones.
func SetTimeFormat(format string, w io.Writer) {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: format}
	base = zerolog.New(cw).With().Timestamp().Logger().Level(base.GetLevel())
}

// L returns the shared logger for callers that want structured fields
// (e.g. base.With().Str("peer", addr).Logger()) rather than the
// printf-style helpers below.
func L() *zerolog.Logger { return &base }

func Debug(format string, args ...interface{}) {
	base.Debug().Msg(fmt.Sprintf(format, args...))
}

func Info(format string, args ...interface{}) {
	base.Info().Msg(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	base.Warn().Msg(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	base.Error().Msg(fmt.Sprintf(format, args...))
}

// Success logs at info level with an extra flog_success=1 field; the
// level label stays "INFO", and severity is unchanged.
func Success(format string, args ...interface{}) {
	base.Info().Str(successFieldKey, "1").Msg(fmt.Sprintf(format, args...))
}

// Fatal logs at fatal level and terminates the process, matching the
// behavior of the logger this package replaces.
func Fatal(format string, args ...interface{}) {
	base.Fatal().Msg(fmt.Sprintf(format, args...))
}

// Section prints a section header directly to stdout, bypassing the
// structured writer — purely decorative, not part of the log stream.
func Section(title string) {
	border := strings.Repeat("═", 61)
	fmt.Printf("\n%s╔%s╗%s\n", colorCyan, border, colorReset)
	fmt.Printf("%s║%s %-57s %s║%s\n", colorCyan, colorReset, title, colorCyan, colorReset)
	fmt.Printf("%s╚%s╝%s\n\n", colorCyan, border, colorReset)
}

// Banner prints the startup banner.
func Banner(title, version string) {
	fmt.Printf("\n%sfosonet%s — %s%s%s (%s)\n\n", colorCyan, colorReset, colorGreen, title, colorReset, version)
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorWhite  = "\033[37m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

func colorize(s, color string) string {
	return color + s + colorReset
}
