// Package handler exposes the services over HTTP with gin.
package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flicky/storefront-api/internal/apperror"
)

// bind decodes the JSON body into req and records a BadRequest on failure.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(apperror.Wrap(apperror.KindBadRequest, err.Error(), err))
		return false
	}
	return true
}

func bindQuery(c *gin.Context, req any) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		_ = c.Error(apperror.Wrap(apperror.KindBadRequest, err.Error(), err))
		return false
	}
	return true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		_ = c.Error(apperror.BadRequest("invalid " + name))
		return uuid.Nil, false
	}
	return id, true
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
