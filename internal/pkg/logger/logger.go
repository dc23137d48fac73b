// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init 配置全局 zerolog: 日志级别、时间戳所在时区 (终端都在伊朗时区，默认 Asia/Tehran)
func Init(level, timezone string) error {
	return initWithWriter(os.Stdout, level, timezone)
}

func initWithWriter(w io.Writer, level, timezone string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}

	loc := time.Local
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return errors.Wrapf(err, "invalid log timezone %q", timezone)
		}
	}

	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = "2006-01-02 15:04:05 MST"
	zerolog.TimestampFunc = func() time.Time { return time.Now().In(loc) }

	log.Logger = zerolog.New(w).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger
	return nil
}

// Ctx 返回与 ctx 绑定的 logger，并带上当前 span 的 trace_id / span_id
func Ctx(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		l = &log.Logger
	}

	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	enriched := l.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
	return &enriched
}
