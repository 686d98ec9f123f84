package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Body struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Code: "ok", Message: "ok", Data: data})
}

func Error(c *gin.Context, status int, code string, message string) {
	c.JSON(status, Body{Code: code, Message: message})
}
