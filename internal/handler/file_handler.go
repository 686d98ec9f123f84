package handler

import (
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mdeck/internal/filestore"
)

// FileHandler serves objects of stores that can read them back, i.e. the
// local store. Remote stores hand out their own public URLs.
type FileHandler struct {
	store filestore.Store
}

func NewFileHandler(store filestore.Store) *FileHandler {
	return &FileHandler{store: store}
}

func (h *FileHandler) Get(c *gin.Context) {
	opener, ok := h.store.(filestore.Opener)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	key, err := filestore.CleanKey(c.Param("key"))
	if err != nil || key == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	file, err := opener.Open(c.Request.Context(), key)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	defer file.Close()
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "public, max-age=86400")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file)
}
