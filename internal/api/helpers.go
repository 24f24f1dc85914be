package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/moefuse/internal/kerr"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

// writeKernelError maps a kernel precondition failure to a 400 naming the
// offending argument. Anything else is a server error.
func writeKernelError(c *echo.Context, err error) error {
	var pe *kerr.PreconditionError
	if errors.As(err, &pe) {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", err.Error(), pe.Arg, pe.Err.Error())
	}
	c.Logger().Error("kernel failed", "path", c.Request().URL.Path, "error", err)
	return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode request: %w", err)
	}
	return out, nil
}

// serializer encodes echo responses with goccy/go-json.
type serializer struct{}

func (serializer) Serialize(c *echo.Context, target any, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(target)
}

func (serializer) Deserialize(c *echo.Context, target any) error {
	if err := json.NewDecoder(c.Request().Body).Decode(target); err != nil {
		return echo.ErrBadRequest.Wrap(err)
	}
	return nil
}
