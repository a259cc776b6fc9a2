package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mathchat/go-chat-v2/pkg/logger"
)

// 统一响应辅助 (所有 handler 共用)。

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"code": "bad_request", "message": message}})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "not_found", "message": message}})
}

func serverError(c *gin.Context, err error) {
	logger.Error("api: internal error",
		logger.FieldPath, c.FullPath(),
		logger.FieldError, err,
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "internal_error", "message": "internal server error"}})
}
