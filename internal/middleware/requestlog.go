package middleware

import (
    "github.com/labstack/echo/v4"
    echomw "github.com/labstack/echo/v4/middleware"
    "go.uber.org/zap"
)

// RequestLogger logs one structured line per request through zap.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
    return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
        LogMethod:    true,
        LogURI:       true,
        LogStatus:    true,
        LogLatency:   true,
        LogRemoteIP:  true,
        LogRequestID: true,
        LogError:     true,
        HandleError:  true,
        LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
            fields := []zap.Field{
                zap.String("method", v.Method),
                zap.String("uri", v.URI),
                zap.Int("status", v.Status),
                zap.Duration("latency", v.Latency),
                zap.String("remote_ip", v.RemoteIP),
            }
            if v.RequestID != "" {
                fields = append(fields, zap.String("request_id", v.RequestID))
            }
            if v.Error != nil {
                log.Warn("request", append(fields, zap.Error(v.Error))...)
                return nil
            }
            log.Info("request", fields...)
            return nil
        },
    })
}

// Recover turns a handler panic into a 500 and logs it with its stack.
func Recover(log *zap.Logger) echo.MiddlewareFunc {
    return echomw.RecoverWithConfig(echomw.RecoverConfig{
        LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
            log.Error("handler panic",
                zap.String("path", c.Path()),
                zap.Error(err),
                zap.ByteString("stack", stack))
            return err
        },
    })
}
