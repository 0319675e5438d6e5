package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	domerr "github.com/TencentBlueKing/bkpaas/pkg/domain/errors"
)

// ErrorMessage is the body of error responses.
//
// Causes stay in logs of the server.
type ErrorMessage struct {
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
	TipsURL string `json:"tips_url,omitempty"`
}

var statuses = map[domerr.Kind]int{
	domerr.KindValidation:          http.StatusBadRequest,
	domerr.KindNotFound:            http.StatusNotFound,
	domerr.KindConflict:            http.StatusConflict,
	domerr.KindPreconditionFailed:  http.StatusPreconditionFailed,
	domerr.KindUpstreamUnavailable: http.StatusBadGateway,
	domerr.KindBuilderFailure:      http.StatusInternalServerError,
	domerr.KindInternal:            http.StatusInternalServerError,
}

// AsHTTPError converts errors from domains into *echo.HTTPError by their kinds.
//
// Messages of internal errors are not exposed.
func AsHTTPError(err error) *echo.HTTPError {
	if err == nil {
		return nil
	}
	if herr := new(echo.HTTPError); errors.As(err, &herr) {
		return herr
	}

	kind := domerr.KindOf(err)
	msg := ErrorMessage{Kind: kind.String(), Reason: err.Error()}
	if kind == domerr.KindInternal || kind == domerr.KindBuilderFailure {
		msg.Reason = "internal error. ask your system admin."
	}
	return echo.NewHTTPError(statuses[kind], msg).SetInternal(err)
}

// BadRequest is the error for requests which can not be understood.
func BadRequest(reason string, err error) *echo.HTTPError {
	return echo.NewHTTPError(
		http.StatusBadRequest,
		ErrorMessage{Kind: domerr.KindValidation.String(), Reason: reason},
	).SetInternal(err)
}
