package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"finreport/internal/apperr"
	"finreport/internal/filestore"
	"finreport/internal/logger"
	"finreport/internal/metrics"
)

const maxUploadBytes = 32 << 20 // 32 MB

func (h *Handler) filesUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, uploadTooLarge(h.maxUpload))
			return
		}
		respondError(c, apperr.New(apperr.KindBadRequest, "multipart field \"file\" is required"))
		return
	}
	if file.Size > h.maxUpload {
		respondError(c, uploadTooLarge(h.maxUpload))
		return
	}
	f, err := file.Open()
	if err != nil {
		respondError(c, apperr.Wrap(apperr.KindBadRequest, "open uploaded file failed", err))
		return
	}
	defer f.Close()

	contentType := file.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err != nil || mt == "" || mt == "application/octet-stream" {
		buf := make([]byte, 512)
		n, _ := io.ReadFull(f, buf)
		contentType = http.DetectContentType(buf[:n])
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			respondError(c, apperr.Wrap(apperr.KindInternal, "rewind upload failed", err))
			return
		}
	}

	meta, err := h.files.Save(c.Request.Context(), file.Filename, contentType, f)
	if err != nil {
		respondError(c, apperr.Wrap(apperr.KindInternal, "save file failed", err))
		return
	}
	metrics.FilesUploaded.Inc()
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"file_id":      meta.FileID,
		"filename":     meta.Filename,
		"content_type": meta.ContentType,
		"size":         meta.Size,
	})
}

// fileDownload returns an upload either as UTF-8 text or as the raw bytes.
func (h *Handler) fileDownload(c *gin.Context) {
	ctx := c.Request.Context()
	fileID := c.Param("file_id")
	filename := c.Query("filename")
	mode := filestore.Mode(strings.ToLower(c.DefaultQuery("mode", string(filestore.ModeBytes))))

	switch mode {
	case filestore.ModeText:
		text, err := h.files.ReadText(ctx, fileID, filename)
		if err != nil {
			respondError(c, fileError(fileID, err))
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
	case filestore.ModeBytes:
		rc, meta, err := h.files.OpenFile(fileID, filename)
		if err != nil {
			respondError(c, fileError(fileID, err))
			return
		}
		defer rc.Close()
		c.Header("Content-Type", meta.ContentType)
		c.Header("Content-Length", fmt.Sprint(meta.Size))
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": meta.Filename}))
		c.Status(http.StatusOK)
		if _, err := io.CopyBuffer(c.Writer, rc, make([]byte, filestore.ChunkSize)); err != nil {
			logger.FromContext(ctx).Warn("file stream interrupted", zap.String("file_id", fileID), zap.Error(err))
		}
	default:
		respondError(c, apperr.Newf(apperr.KindBadRequest, "mode must be %q or %q", filestore.ModeText, filestore.ModeBytes))
	}
}

func uploadTooLarge(limit int64) error {
	return &apperr.Error{
		Kind:       apperr.KindBadRequest,
		Message:    fmt.Sprintf("file exceeds the %d byte upload limit", limit),
		StatusCode: http.StatusRequestEntityTooLarge,
	}
}

func fileError(fileID string, err error) error {
	if errors.Is(err, filestore.ErrNotFound) {
		return apperr.Newf(apperr.KindNotFound, "file %s not found", fileID)
	}
	return apperr.Wrap(apperr.KindInternal, "read file failed", err)
}
