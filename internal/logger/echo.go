package logger

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// EchoRequestLogger logs one line per request. Health checks are skipped.
// Raw query strings are never logged because the bearer fallback carries the
// access token there.
func EchoRequestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/healthz"
		},
		HandleError:  true,
		LogLatency:   true,
		LogMethod:    true,
		LogRoutePath: true,
		LogStatus:    true,
		LogRemoteIP:  true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("route", v.RoutePath),
				zap.Int("status", v.Status),
				zap.String("ip", v.RemoteIP),
				zap.Duration("latency", v.Latency),
			}
			switch {
			case v.Error != nil || v.Status >= 500:
				log.Error("request failed", append(fields, zap.Error(v.Error))...)
			case v.Status >= 400:
				log.Info("request rejected", fields...)
			default:
				log.Info("request", fields...)
			}
			return nil
		},
	})
}
