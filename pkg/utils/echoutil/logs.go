package echoutil

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// AccessLog logs requests and their responses.
//
// The operator is read from the header operatorHeader, which is set by the API gateway.
func AccessLog(operatorHeader string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			operator := req.Header.Get(operatorHeader)
			if operator == "" {
				operator = "-"
			}
			begin := time.Now()
			c.Logger().Debugf("< %s %s by %s", req.Method, req.URL, operator)

			defer func() {
				status := c.Response().Status
				if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
					status = he.Code
				}
				c.Logger().Infof(
					"> %s %s by %s: status = %d in %v / error = %v",
					req.Method, req.URL, operator, status, time.Since(begin), err,
				)
			}()
			return next(c)
		}
	}
}

// SetLevel sets log level of e by name. Unknown names fall back to warn.
func SetLevel(e *echo.Echo, loglevel string) {
	switch strings.ToLower(loglevel) {
	case "debug":
		e.Logger.SetLevel(log.DEBUG)
	case "info":
		e.Logger.SetLevel(log.INFO)
	case "warn", "":
		e.Logger.SetLevel(log.WARN)
	case "error":
		e.Logger.SetLevel(log.ERROR)
	case "off":
		e.Logger.SetLevel(log.OFF)
	default:
		e.Logger.SetLevel(log.WARN)
		e.Logger.Warnf("unknown loglevel: %s . fall-backed to warn", loglevel)
	}
}
