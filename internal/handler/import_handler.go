package handler

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mdeck/internal/model"
	"github.com/xxxsen/mdeck/internal/pkg/errcode"
	"github.com/xxxsen/mdeck/internal/pkg/response"
	"github.com/xxxsen/mdeck/internal/progress"
)

const (
	uploadField     = "apkgFile"
	collectionField = "collectionName"
	noActiveImport  = "no active import"
)

type ImportService interface {
	SaveUpload(fileName string, r io.Reader) (string, error)
	Submit(ctx context.Context, userID, collectionName, path string) (string, error)
	Progress(userID string) (progress.Snapshot, bool)
	JobProgress(userID, jobID string) (progress.Snapshot, error)
	Status(ctx context.Context, userID string) (*model.ImportStatus, error)
}

type ImportHandler struct {
	imports       ImportService
	maxUploadSize int64
	pollInterval  time.Duration
	upgrader      websocket.Upgrader
}

func NewImportHandler(imports ImportService, maxUploadSize int64) *ImportHandler {
	return &ImportHandler{
		imports:       imports,
		maxUploadSize: maxUploadSize,
		pollInterval:  time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type uploadResponse struct {
	Success    bool   `json:"success"`
	Processing bool   `json:"processing"`
	JobID      string `json:"job_id"`
}

type idleProgress struct {
	IsActive bool   `json:"is_active"`
	Message  string `json:"message"`
}

// Upload accepts an Anki package and starts its import in the background.
func (h *ImportHandler) Upload(c *gin.Context) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize+multipartOverhead)
	}
	file, err := c.FormFile(uploadField)
	if err != nil {
		if isTooLarge(err) {
			h.tooLarge(c)
			return
		}
		response.Error(c, http.StatusBadRequest, errcode.MissingFile, uploadField+" is required")
		return
	}
	if h.maxUploadSize > 0 && file.Size > h.maxUploadSize {
		h.tooLarge(c)
		return
	}
	if !isPackageName(file.Filename) {
		response.Error(c, http.StatusBadRequest, errcode.InvalidExtension, "only .apkg and .colpkg files are accepted")
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, errcode.MissingFile, "failed to open file")
		return
	}
	defer opened.Close()

	tmpPath, err := h.imports.SaveUpload(file.Filename, opened)
	if err != nil {
		logutil.GetLogger(c.Request.Context()).Error("save upload failed", zap.String("name", file.Filename), zap.Error(err))
		response.Error(c, http.StatusInternalServerError, errcode.UploadFailed, "failed to store upload")
		return
	}
	collection := strings.TrimSpace(c.PostForm(collectionField))
	jobID, err := h.imports.Submit(c.Request.Context(), getUserID(c), collection, tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		handleError(c, err)
		return
	}
	response.Success(c, uploadResponse{Success: true, Processing: true, JobID: jobID})
}

func (h *ImportHandler) tooLarge(c *gin.Context) {
	response.Error(c, http.StatusRequestEntityTooLarge, errcode.FileTooLarge,
		"file too large (max "+formatUploadLimit(h.maxUploadSize)+")")
}

// Progress returns the latest import of the caller.
func (h *ImportHandler) Progress(c *gin.Context) {
	if !sameUser(c) {
		return
	}
	snap, ok := h.imports.Progress(getUserID(c))
	if !ok {
		response.Success(c, idleProgress{IsActive: false, Message: noActiveImport})
		return
	}
	response.Success(c, snap)
}

func (h *ImportHandler) JobProgress(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		response.Error(c, http.StatusBadRequest, errcode.Invalid, "job_id required")
		return
	}
	snap, err := h.imports.JobProgress(getUserID(c), jobID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, snap)
}

func (h *ImportHandler) Status(c *gin.Context) {
	if !sameUser(c) {
		return
	}
	status, err := h.imports.Status(c.Request.Context(), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, status)
}

// Stream pushes progress snapshots over a websocket until the import is no
// longer active.
func (h *ImportHandler) Stream(c *gin.Context) {
	if !sameUser(c) {
		return
	}
	userID := getUserID(c)
	logger := logutil.GetLogger(c.Request.Context())
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	var lastUpdate int64 = -1
	for {
		snap, ok := h.imports.Progress(userID)
		if !ok {
			_ = conn.WriteJSON(idleProgress{IsActive: false, Message: noActiveImport})
			h.closeStream(conn)
			return
		}
		if snap.LastUpdate != lastUpdate || !snap.IsActive {
			if err := conn.WriteJSON(snap); err != nil {
				logger.Debug("websocket write failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
			lastUpdate = snap.LastUpdate
		}
		if !snap.IsActive {
			h.closeStream(conn)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *ImportHandler) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "import finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
