package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// jsend envelope: success carries data, fail is the client's fault, error is ours.
type jsendResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func respond(c echo.Context, code int, resp jsendResponse) error {
	if resp.Status == "error" {
		resp.Code = code
	}
	return c.JSON(code, resp)
}

func success(c echo.Context, data any) error {
	return respond(c, http.StatusOK, jsendResponse{Status: "success", Data: data})
}

func fail(c echo.Context, code int, message string, data any) error {
	return respond(c, code, jsendResponse{Status: "fail", Message: message, Data: data})
}

func failValidation(c echo.Context, fieldErrors map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", map[string]any{
		"validation_errors": fieldErrors,
	})
}

func errorWithData(c echo.Context, code int, message string, data any) error {
	return respond(c, code, jsendResponse{Status: "error", Message: message, Data: data})
}

func internalError(c echo.Context, message string) error {
	return errorWithData(c, http.StatusInternalServerError, message, nil)
}
