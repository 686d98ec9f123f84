package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xxxsen/mdeck/internal/middleware"
)

type RouterDeps struct {
	Imports      *ImportHandler
	Files        *FileHandler
	JWTSecret    []byte
	UploadWindow time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/metrics", gin.WrapH(promhttp.Handler()))
	api.GET("/files/*key", deps.Files.Get)

	authGroup := api.Group("")
	authGroup.Use(middleware.JWTAuth(deps.JWTSecret))
	authGroup.POST("/flashcards/import", middleware.RateLimit(deps.UploadWindow), deps.Imports.Upload)
	authGroup.GET("/flashcards/import/progress/:user_id", deps.Imports.Progress)
	authGroup.GET("/flashcards/import/progress/:user_id/ws", deps.Imports.Stream)
	authGroup.GET("/flashcards/import/jobs/:job_id/progress", deps.Imports.JobProgress)
	authGroup.GET("/flashcards/import/status/:user_id", deps.Imports.Status)
}
