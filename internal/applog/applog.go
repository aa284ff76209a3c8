// Package applog provides preconfigured [slog.Logger]s and a context carrier
// for them, adapted from the structured-logging setup used by the SIP stack
// this project grew out of.
package applog

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/golang-cz/devslog"
	conslog "github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"
)

var newHandler = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(ls net.Listener) slog.Value {
		return slog.GroupValue(
			slog.String("type", fmt.Sprintf("%T", ls)),
			slog.Any("local_addr", ls.Addr()),
		)
	}),
	slogformatter.FormatByType(func(c net.Conn) slog.Value {
		return slog.GroupValue(
			slog.String("type", fmt.Sprintf("%T", c)),
			slog.Any("local_addr", c.LocalAddr()),
			slog.Any("remote_addr", c.RemoteAddr()),
		)
	}),
)

var console = slog.New(newHandler(
	conslog.NewHandler(os.Stdout, &conslog.HandlerOptions{
		Level:      slog.LevelInfo,
		TimeFormat: time.RFC3339Nano,
	}),
))

// Console returns the logger configured for production console output.
func Console() *slog.Logger { return console }

var develop = slog.New(newHandler(
	devslog.NewHandler(os.Stdout, &devslog.Options{
		HandlerOptions: &slog.HandlerOptions{
			AddSource: true,
			Level:     slog.LevelDebug,
		},
		SortKeys:   true,
		TimeFormat: time.RFC3339Nano,
	}),
))

// Develop returns the logger configured for extended local-development output.
func Develop() *slog.Logger { return develop }

var noop = slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))

// Noop returns a logger that writes nothing, used as a safe zero value in tests.
func Noop() *slog.Logger { return noop }

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// New returns [Console] or [Develop] depending on env, matching the
// NODE_ENV convention the rest of the configuration follows.
func New(env string) *slog.Logger {
	if env == "development" || env == "" {
		return Develop()
	}
	return Console()
}

var _default atomic.Pointer[slog.Logger]

func init() { _default.Store(noop) }

// Default returns the process-wide default logger, [Noop] until [SetDefault] is called.
func Default() *slog.Logger { return _default.Load() }

// SetDefault overwrites the process-wide default logger.
func SetDefault(l *slog.Logger) {
	if l == nil {
		l = noop
	}
	_default.Store(l)
}

type ctxKey struct{}

// ContextWithLogger returns a new context carrying logger, retrievable with [FromContext].
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or [Default] if none was set.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return Default()
}
