package api

import (
	"errors"
	"strconv"

	"lending-service/internal/errs"

	"github.com/gin-gonic/gin"
)

// respondError writes the typed error as the wire contract both
// services share: {"error": KIND, "message": "..."} with the kind's
// mapped status code.
func respondError(c *gin.Context, err error) {
	kind := errs.KindOf(err)

	message := err.Error()
	var typed *errs.Error
	if errors.As(err, &typed) {
		message = typed.Message
	}

	c.JSON(errs.HTTPStatus(kind), gin.H{
		"error":   string(kind),
		"message": message,
	})
}

// pathID parses a numeric path parameter, writing the error response
// itself on failure.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, errs.New(errs.KindInvalidRequest, "invalid %s: %s", name, c.Param(name)))
		return 0, false
	}
	return id, true
}
