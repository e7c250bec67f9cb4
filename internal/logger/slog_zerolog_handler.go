package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// bridge adapts an *slog.Logger onto the service's zerolog logger so
// packages that take slog (the coordinator, the HTTP layer) and the
// binaries that configure zerolog share one output. Request, session and
// component ids stored on the context by WithRequestID and friends are
// stamped onto every event.
type bridge struct {
	zl     *zerolog.Logger
	attrs  []slog.Attr
	prefix string // active group path, "a.b."
}

// NewSlog wraps zl in an slog.Logger.
func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&bridge{zl: zl})
}

func (b *bridge) Enabled(_ context.Context, level slog.Level) bool {
	lvl := toZerolog(level)
	return lvl >= b.zl.GetLevel() && lvl >= zerolog.GlobalLevel()
}

func (b *bridge) Handle(ctx context.Context, rec slog.Record) error {
	ev := FromContext(ctx, b.zl).WithLevel(toZerolog(rec.Level))

	for _, a := range b.attrs {
		ev = appendAttr(ev, b.prefix, a)
	}
	rec.Attrs(func(a slog.Attr) bool {
		ev = appendAttr(ev, b.prefix, a)
		return true
	})

	ev.Msg(rec.Message)
	return nil
}

func (b *bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *b
	cp.attrs = append(append([]slog.Attr(nil), b.attrs...), attrs...)
	return &cp
}

func (b *bridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	cp := *b
	cp.prefix = b.prefix + name + "."
	return &cp
}

func toZerolog(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func appendAttr(ev *zerolog.Event, prefix string, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	key := prefix + a.Key
	switch a.Value.Kind() {
	case slog.KindString:
		return ev.Str(key, a.Value.String())
	case slog.KindInt64:
		return ev.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, a.Value.Float64())
	case slog.KindBool:
		return ev.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		return ev.Dur(key, a.Value.Duration())
	case slog.KindTime:
		return ev.Time(key, a.Value.Time())
	case slog.KindGroup:
		for _, ga := range a.Value.Group() {
			ev = appendAttr(ev, key+".", ga)
		}
		return ev
	default:
		return ev.Interface(key, a.Value.Any())
	}
}
