package evaluations

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"designscore-backend/internal/shared/server/middleware"
	"designscore-backend/internal/shared/server/respond"
)

const maxImageBytes = 10 << 20

var allowedMediaTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// Handler wires HTTP handlers to the evaluations service.
type Handler struct {
	Svc         *Service
	pollLimiter *pollLimiter
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc, pollLimiter: newPollLimiter(pollLimitWindow, nil)}
}

// RegisterRoutes attaches evaluation routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/evaluations", h.startEvaluation)
	rg.GET("/evaluations", h.listEvaluations)
	rg.GET("/evaluations/:id", h.getEvaluation)
}

// startEvaluation accepts the multipart submission and answers with
// the progress event stream. The response stays open for the lifetime
// of the pipeline run and is closed exactly once when the handler
// returns, whatever branch the run took.
func (h *Handler) startEvaluation(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	image, mediaType, ok := h.readImage(c, "image", true)
	if !ok {
		return
	}
	prevImage, _, ok := h.readImage(c, "previousImage", false)
	if !ok {
		return
	}

	mode := ModeSingle
	if prevImage != nil {
		mode = ModeComparison
	}
	tier := normalizeTier(c.PostForm("tier"))

	ctx := c.Request.Context()
	imageKey, _, _, err := h.Svc.Store.Save(ctx, userID, "design"+extensionFor(mediaType), bytes.NewReader(image))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to store image", nil)
		return
	}
	var prevImageKey string
	if prevImage != nil {
		prevImageKey, _, _, err = h.Svc.Store.Save(ctx, userID, "design-previous"+extensionFor(mediaType), bytes.NewReader(prevImage))
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to store image", nil)
			return
		}
	}

	ev := Evaluation{
		ID:           strings.TrimSpace(c.PostForm("evaluationId")),
		UserID:       userID,
		Tier:         tier,
		Mode:         mode,
		Status:       StatusPending,
		ImageKey:     imageKey,
		PrevImageKey: prevImageKey,
		MediaType:    mediaType,
		CreatedAt:    time.Now().UTC(),
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
		if err := h.Svc.Repo.Create(ctx, ev); err != nil {
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start evaluation", nil)
			return
		}
	} else {
		existing, err := h.Svc.Repo.GetByID(ctx, ev.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "evaluation not found", nil)
			return
		case err != nil:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start evaluation", nil)
			return
		case existing.UserID != userID:
			respond.Error(c, http.StatusNotFound, "not_found", "evaluation not found", nil)
			return
		}
		if err := h.Svc.Repo.Restart(ctx, ev); err != nil {
			switch {
			case errors.Is(err, ErrEvaluationActive):
				respond.Error(c, http.StatusConflict, "evaluation_active", "This evaluation is still running.", nil)
			default:
				respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start evaluation", nil)
			}
			return
		}
	}

	em, err := NewEmitter(c.Writer)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "streaming not supported", nil)
		return
	}

	// Detached context: the run must survive an abandoned client
	// connection and finish for the polling path.
	h.Svc.Run(context.Background(), ev.ID, em)
}

// getEvaluation is the read-only polling endpoint.
func (h *Handler) getEvaluation(c *gin.Context) {
	evaluationID := c.Param("id")
	if evaluationID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "evaluation id is required", nil)
		return
	}
	userID := middleware.UserIDFromContext(c)
	if !h.pollLimiter.Allow(userID, evaluationID) {
		c.Header("Retry-After", strconv.Itoa(h.pollLimiter.RetryAfterSeconds()))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "polling too fast", nil)
		return
	}

	ev, err := h.Svc.Repo.GetByID(c.Request.Context(), evaluationID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "evaluation not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch evaluation", nil)
		}
		return
	}
	if ev.UserID != userID {
		respond.Error(c, http.StatusNotFound, "not_found", "evaluation not found", nil)
		return
	}

	resp := gin.H{
		"id":     ev.ID,
		"status": ev.Status,
	}
	if ev.Phase != "" {
		resp["phase"] = ev.Phase
	}
	if ev.Status == StatusCompleted && ev.Result != nil {
		resp["result"] = ev.Result
	}
	if ev.Status == StatusFailed {
		resp["errorCode"] = ev.ErrorCode
		resp["errorMessage"] = ev.ErrorMessage
	}
	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) listEvaluations(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}

	list, err := h.Svc.Repo.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list evaluations", nil)
		return
	}
	if list == nil {
		list = []Evaluation{}
	}
	respond.JSON(c, http.StatusOK, gin.H{"evaluations": list})
}

// readImage pulls one multipart image field into memory, enforcing the
// size cap and media-type allowlist. Reports handled=false after
// writing an error response.
func (h *Handler) readImage(c *gin.Context, field string, required bool) (data []byte, mediaType string, ok bool) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		if !required {
			return nil, "", true
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", field+" file is required", nil)
		return nil, "", false
	}
	if fileHeader.Size > maxImageBytes {
		respond.Error(c, http.StatusRequestEntityTooLarge, "validation_error", "image exceeds the size limit", nil)
		return nil, "", false
	}
	mediaType = normalizeMediaType(fileHeader)
	if !allowedMediaTypes[mediaType] {
		respond.Error(c, http.StatusUnsupportedMediaType, "validation_error", "unsupported image type", nil)
		return nil, "", false
	}
	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "could not read "+field, nil)
		return nil, "", false
	}
	defer file.Close()
	data, err = io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil || len(data) > maxImageBytes {
		respond.Error(c, http.StatusBadRequest, "validation_error", "could not read "+field, nil)
		return nil, "", false
	}
	return data, mediaType, true
}

func normalizeMediaType(fh *multipart.FileHeader) string {
	declared := strings.ToLower(strings.TrimSpace(fh.Header.Get("Content-Type")))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared == "image/jpg" {
		return "image/jpeg"
	}
	return declared
}

func normalizeTier(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case TierPro:
		return TierPro
	default:
		return TierStandard
	}
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
