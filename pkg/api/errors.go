package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/murmur/pkg/runtime"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

// mapRuntimeError maps runtime and store errors to HTTP error responses.
func (s *Server) mapRuntimeError(err error) *echo.HTTPError {
	var cfgErr *runtime.ConfigError
	if errors.As(err, &cfgErr) {
		return echo.NewHTTPError(http.StatusBadRequest, cfgErr.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, store.ErrDuplicateKey) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}

	// Unexpected error
	s.logger.Error("unexpected runtime error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
