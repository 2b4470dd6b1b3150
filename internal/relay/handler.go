package relay

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"letterlab-backend/internal/extract"
	"letterlab-backend/internal/llm"
	"letterlab-backend/internal/shared/server/respond"
	"letterlab-backend/internal/shared/storage/object"
	"letterlab-backend/internal/shared/telemetry"
	"letterlab-backend/internal/shared/util"
)

const (
	maxUploadBytes = 10 << 20
	keyPrefix      = "resumes/"
)

var fileNamePattern = regexp.MustCompile(`^[a-zA-Z0-9-_]+\.pdf$`)

// LetterGenerator produces a cover letter in-process.
type LetterGenerator interface {
	CoverLetter(ctx context.Context, resume, jobDesc string) (string, error)
}

// Handler serves resume PDF uploads and the cover letter relay.
type Handler struct {
	Store   object.ObjectStore
	Proxy   *Proxy
	Letters LetterGenerator
	Now     func() time.Time
}

func NewHandler(store object.ObjectStore, proxy *Proxy, letters LetterGenerator) *Handler {
	return &Handler{Store: store, Proxy: proxy, Letters: letters, Now: time.Now}
}

// RegisterRoutes attaches the relay under rg, normally /api/resume.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.upload)
	rg.GET("/:filename", h.download)
	rg.GET("/:filename/text", h.text)
	rg.POST("/:filename/cover-letter", h.coverLetter)
}

// Key maps a validated file name to its object key.
func Key(fileName string) string {
	return path.Join(keyPrefix, fileName)
}

// ValidFileName reports whether name is a plain PDF file name.
func ValidFileName(name string) bool {
	return fileNamePattern.MatchString(name)
}

func (h *Handler) upload(c *gin.Context) {
	fh, err := c.FormFile("pdf")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "pdf file is required", nil)
		return
	}
	if fh.Size > maxUploadBytes {
		respond.Error(c, http.StatusRequestEntityTooLarge, "too_large", "file exceeds upload limit", nil)
		return
	}
	f, err := fh.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unreadable upload", nil)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unreadable upload", nil)
		return
	}
	if len(data) > maxUploadBytes {
		respond.Error(c, http.StatusRequestEntityTooLarge, "too_large", "file exceeds upload limit", nil)
		return
	}
	if !extract.IsPDF(data) {
		respond.Error(c, http.StatusBadRequest, "validation_error", "Only PDF files are allowed", nil)
		return
	}

	name, err := h.newFileName()
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to name upload", nil)
		return
	}
	size, err := h.Store.Put(c.Request.Context(), Key(name), "application/pdf", bytes.NewReader(data))
	if err != nil {
		telemetry.Error("relay.upload.failed", map[string]any{
			"request_id": c.GetString("requestId"),
			"key":        Key(name),
			"err":        err.Error(),
		})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to store file", nil)
		return
	}

	original, err := util.SanitizeFileName(fh.Filename)
	if err != nil {
		original = name
	}
	telemetry.Info("relay.upload", map[string]any{
		"request_id": c.GetString("requestId"),
		"filename":   name,
		"size":       size,
	})
	respond.Created(c, gin.H{
		"filename":     name,
		"originalname": original,
		"mimetype":     "application/pdf",
		"size":         size,
	})
}

func (h *Handler) download(c *gin.Context) {
	name, ok := h.fileName(c)
	if !ok {
		return
	}
	body, err := h.Store.Open(c.Request.Context(), Key(name))
	if err != nil {
		h.storeError(c, err)
		return
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to read file", nil)
		return
	}
	c.Header("Content-Disposition", "inline; filename="+name)
	c.Data(http.StatusOK, "application/pdf", data)
}

func (h *Handler) text(c *gin.Context) {
	name, ok := h.fileName(c)
	if !ok {
		return
	}
	text, err := extract.Text(c.Request.Context(), h.Store, Key(name))
	if err != nil {
		h.storeError(c, err)
		return
	}
	respond.OK(c, gin.H{"text": text})
}

type coverLetterInput struct {
	JobDesc string `json:"job_desc"`
}

func (h *Handler) coverLetter(c *gin.Context) {
	name, ok := h.fileName(c)
	if !ok {
		return
	}
	var req coverLetterInput
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.JobDesc) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "Missing resume or job description", nil)
		return
	}

	ctx := c.Request.Context()
	resume, err := extract.Text(ctx, h.Store, Key(name))
	if err != nil {
		h.storeError(c, err)
		return
	}

	var letter string
	via := "local"
	if h.Proxy != nil {
		via = "proxy"
		letter, err = h.Proxy.CoverLetter(ctx, resume, req.JobDesc)
	} else {
		letter, err = h.Letters.CoverLetter(ctx, resume, req.JobDesc)
	}
	if err != nil {
		telemetry.Error("relay.cover_letter.failed", map[string]any{
			"request_id": c.GetString("requestId"),
			"via":        via,
			"err":        err.Error(),
		})
		switch {
		case errors.Is(err, llm.ErrDisabled):
			respond.Error(c, http.StatusServiceUnavailable, "llm_disabled", "generation is not configured", nil)
		case errors.Is(err, context.Canceled):
			respond.Error(c, 499, "canceled", "request canceled", nil)
		case errors.Is(err, context.DeadlineExceeded):
			respond.Error(c, http.StatusGatewayTimeout, "timeout", "generation timed out", nil)
		default:
			respond.Error(c, http.StatusBadGateway, "generation_failed", "failed to generate cover letter", nil)
		}
		return
	}
	respond.OK(c, gin.H{"cover_letter": letter})
}

func (h *Handler) fileName(c *gin.Context) (string, bool) {
	name := c.Param("filename")
	if !ValidFileName(name) {
		respond.Error(c, http.StatusBadRequest, "validation_error", "Invalid filename", nil)
		return "", false
	}
	return name, true
}

func (h *Handler) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, object.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "File not found", nil)
	case errors.Is(err, extract.ErrUnsupported):
		respond.Error(c, http.StatusUnprocessableEntity, "unsupported", "file is not a readable PDF", nil)
	default:
		telemetry.Error("relay.store.failed", map[string]any{
			"request_id": c.GetString("requestId"),
			"err":        err.Error(),
		})
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to read file", nil)
	}
}

func (h *Handler) newFileName() (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%s.pdf", h.Now().UnixMilli(), hex.EncodeToString(b[:])), nil
}
