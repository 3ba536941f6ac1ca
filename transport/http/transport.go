package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/endpoint"

	"github.com/flarexio/repochat"
	"github.com/flarexio/repochat/llm"
)

const (
	msgNoQuestion      = "No question provided"
	msgInternalError   = "Internal server error"
	msgContextTooLarge = "Question too broad for the available context"
)

func errorJSON(c *gin.Context, status int, msg string, err error) {
	c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// failure maps a pipeline error to a response. Callers' mistakes are 400,
// everything else is an opaque 500.
func failure(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repochat.ErrEmptyQuestion):
		errorJSON(c, http.StatusBadRequest, msgNoQuestion, err)

	case errors.Is(err, repochat.ErrInvalidArgument):
		errorJSON(c, http.StatusBadRequest, err.Error(), err)

	case errors.Is(err, llm.ErrContextTooLarge):
		errorJSON(c, http.StatusBadRequest, msgContextTooLarge, err)

	default:
		errorJSON(c, http.StatusInternalServerError, msgInternalError, err)
	}
}

func AskHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req repochat.AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			errorJSON(c, http.StatusBadRequest, msgNoQuestion, err)
			return
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			failure(c, err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func SearchHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := repochat.SearchRequest{
			Query: c.Query("query"),
		}

		if raw, ok := c.GetQuery("k"); ok {
			k, err := strconv.Atoi(raw)
			if err != nil || k <= 0 {
				err := errors.New("k must be a positive integer")
				errorJSON(c, http.StatusBadRequest, err.Error(), err)
				return
			}

			req.K = k
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			failure(c, err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}

func HealthHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		resp, err := endpoint(ctx, nil)
		if err != nil {
			failure(c, err)
			return
		}

		c.JSON(http.StatusOK, &resp)
	}
}
