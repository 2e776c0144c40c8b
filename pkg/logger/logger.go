// Package logger builds the scanner's zap logger and its request logging.
package logger

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/noah-isme/beacon-attendance/pkg/config"
	"github.com/noah-isme/beacon-attendance/pkg/middleware/requestid"
)

// New builds the process logger. Every entry carries the beacon driver so
// logs from simulated runs are easy to tell apart.
func New(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := buildConfig(cfg.Env, cfg.Log)
	zapCfg.InitialFields = map[string]interface{}{
		"service":       "beacon-scanner",
		"beacon_driver": cfg.Beacon.Driver,
	}
	return zapCfg.Build()
}

func buildConfig(env string, logCfg config.LogConfig) zap.Config {
	zapCfg := zap.NewDevelopmentConfig()
	if env == config.EnvProduction {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Encoding = "json"
	if strings.EqualFold(logCfg.Format, "console") {
		zapCfg.Encoding = "console"
	}
	level := zapcore.InfoLevel
	if logCfg.Level != "" {
		if parsed, err := zapcore.ParseLevel(logCfg.Level); err == nil {
			level = parsed
		}
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapCfg
}

// ForSession scopes l to one scan session.
func ForSession(l *zap.Logger, sessionID, classKey string) *zap.Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return l.With(zap.String("session_id", sessionID), zap.String("class", classKey))
}

// RequestLogger logs each request against its route template. Routes listed
// in quiet (health and scrape probes) log at debug. The session event stream
// is logged once, when the client disconnects.
func RequestLogger(l *zap.Logger, quiet ...string) gin.HandlerFunc {
	quietRoutes := make(map[string]struct{}, len(quiet))
	for _, route := range quiet {
		quietRoutes[route] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if reqID := requestid.Value(c); reqID != "" {
			fields = append(fields, zap.String("request_id", reqID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		msg := "http_request"
		if strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream") {
			msg = "event_stream_closed"
		}
		switch {
		case status >= 500:
			l.Error(msg, fields...)
		case status >= 400:
			l.Warn(msg, fields...)
		default:
			if _, ok := quietRoutes[route]; ok {
				l.Debug(msg, fields...)
				return
			}
			l.Info(msg, fields...)
		}
	}
}
