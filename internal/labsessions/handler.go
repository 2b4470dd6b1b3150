package labsessions

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"letterlab-backend/internal/compare"
	"letterlab-backend/internal/llm"
	"letterlab-backend/internal/progress"
	"letterlab-backend/internal/prompts"
	"letterlab-backend/internal/shared/server/middleware"
	"letterlab-backend/internal/shared/server/respond"
)

// Handler wires the participant lab endpoints.
type Handler struct {
	Svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc, validate: validator.New()}
}

// RegisterRoutes attaches the lab endpoints to a token-gated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/initialize", h.initialize)
	rg.GET("/sessions/:id", h.get)
	rg.POST("/generate-control-profile", h.generateControlProfile)
	rg.POST("/save-phase-responses", h.savePhaseResponses)
	rg.POST("/save-control-profile-responses", h.saveControlResponses)
	rg.POST("/generate-bse-bullets", h.generateBullets)
	rg.POST("/regenerate-bullet", h.regenerateBullet)
	rg.POST("/save-iteration-data", h.saveIteration)
	rg.POST("/generate-aligned-profile", h.generateAlignedProfile)
	rg.POST("/mark-session-completed", h.markCompleted)
	rg.POST("/submit-final-feedback", h.submitFinalFeedback)
}

// RegisterCoverLetterRoute attaches the single-shot generator.
func (h *Handler) RegisterCoverLetterRoute(rg *gin.RouterGroup) {
	rg.POST("/cover-letter", h.coverLetter)
}

type initializeRequest struct {
	ResumeText string `json:"resume_text"`
	JobDesc    string `json:"job_desc"`
}

func (h *Handler) initialize(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.ResumeText) == "" || strings.TrimSpace(req.JobDesc) == "" {
		badRequest(c, "Missing resume or job description", nil)
		return
	}
	sess, err := h.Svc.Initialize(c.Request.Context(), owner(c), req.ResumeText, req.JobDesc)
	if err != nil {
		h.writeError(c, err, "Error processing cover letter")
		return
	}
	markEvent(c, sess.ID, progress.EventSessionInitialized)
	respond.OK(c, gin.H{
		"document_id":           sess.ID,
		"initial_cover_letter":  sess.InitialCoverLetter,
		"review_all_view_intro": sess.ReviewIntro,
		"bullets":               sess.BulletsByCategory(),
	})
}

func (h *Handler) get(c *gin.Context) {
	id := c.Param("id")
	c.Set("sessionId", id)
	sess, err := h.Svc.Get(c.Request.Context(), owner(c), id)
	if err != nil {
		h.writeError(c, err, "failed to load session")
		return
	}
	respond.OK(c, sess)
}

type sessionRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

func (h *Handler) generateControlProfile(c *gin.Context) {
	var req sessionRequest
	if !h.bind(c, &req) {
		return
	}
	text, err := h.Svc.GenerateControlProfile(c.Request.Context(), owner(c), req.SessionID)
	if err != nil {
		h.writeError(c, err, "failed to generate control profile")
		return
	}
	markEvent(c, req.SessionID, progress.EventControlGenerated)
	respond.OK(c, gin.H{"text": text})
}

type phaseRequest struct {
	SessionID       string        `json:"session_id" validate:"required"`
	Phase           string        `json:"phase" validate:"omitempty,oneof=control aligned"`
	LikertResponses Likert        `json:"likert_responses"`
	OpenResponses   OpenResponses `json:"open_responses"`
}

func (h *Handler) savePhaseResponses(c *gin.Context) {
	h.savePhase(c, "")
}

func (h *Handler) saveControlResponses(c *gin.Context) {
	h.savePhase(c, PhaseControl)
}

func (h *Handler) savePhase(c *gin.Context, forced string) {
	var req phaseRequest
	if !h.bind(c, &req) {
		return
	}
	phase := req.Phase
	if forced != "" {
		phase = forced
	}
	if phase == "" {
		badRequest(c, "phase is required", nil)
		return
	}
	err := h.Svc.SavePhaseResponses(c.Request.Context(), owner(c), req.SessionID, phase, req.LikertResponses, req.OpenResponses)
	if err != nil {
		h.writeError(c, err, "failed to save responses")
		return
	}
	markEvent(c, req.SessionID, progress.EventPhaseResponsesSaved)
	respond.OK(c, gin.H{"status": "saved", "phase": phase})
}

type bulletsRequest struct {
	SessionID      string `json:"session_id" validate:"required"`
	Resume         string `json:"resume"`
	JobDescription string `json:"job_description"`
}

func (h *Handler) generateBullets(c *gin.Context) {
	var req bulletsRequest
	if !h.bind(c, &req) {
		return
	}
	bullets, err := h.Svc.GenerateBullets(c.Request.Context(), owner(c), req.SessionID)
	if err != nil {
		h.writeError(c, err, "failed to generate bullets")
		return
	}
	markEvent(c, req.SessionID, progress.EventBulletsGenerated)
	respond.OK(c, gin.H{"bullets": bullets})
}

type currentBullet struct {
	Text      string `json:"text"`
	Rationale string `json:"rationale"`
}

type regenerateRequest struct {
	SessionID        string         `json:"session_id" validate:"required"`
	BulletIndex      *int           `json:"bullet_index" validate:"required,min=0"`
	CurrentBullet    currentBullet  `json:"current_bullet"`
	UserRating       *int           `json:"user_rating" validate:"required,min=1,max=7"`
	UserFeedback     string         `json:"user_feedback"`
	IterationHistory []HistoryEntry `json:"iteration_history"`
}

func (h *Handler) regenerateBullet(c *gin.Context) {
	var req regenerateRequest
	if !h.bind(c, &req) {
		return
	}
	bullet, err := h.Svc.RegenerateBullet(c.Request.Context(), owner(c), req.SessionID, RegenerateInput{
		BulletIndex: *req.BulletIndex,
		Text:        req.CurrentBullet.Text,
		Rationale:   req.CurrentBullet.Rationale,
		Rating:      req.UserRating,
		Feedback:    req.UserFeedback,
		History:     req.IterationHistory,
	})
	if err != nil {
		h.writeError(c, err, "failed to regenerate bullet")
		return
	}
	markEvent(c, req.SessionID, progress.EventBulletRegenerated)
	respond.OK(c, gin.H{"bullet": currentBullet{Text: bullet.Text, Rationale: bullet.Rationale}})
}

type iterationRequest struct {
	SessionID       string `json:"session_id" validate:"required"`
	BulletIndex     *int   `json:"bullet_index" validate:"required,min=0"`
	IterationNumber int    `json:"iteration_number" validate:"required,min=1"`
	BulletText      string `json:"bullet_text" validate:"required"`
	Rationale       string `json:"rationale"`
	UserRating      *int   `json:"user_rating" validate:"omitempty,min=1,max=7"`
	UserFeedback    string `json:"user_feedback"`
	IsFinal         bool   `json:"is_final"`
}

func (h *Handler) saveIteration(c *gin.Context) {
	var req iterationRequest
	if !h.bind(c, &req) {
		return
	}
	saved, err := h.Svc.SaveIteration(c.Request.Context(), owner(c), Iteration{
		SessionID:       req.SessionID,
		BulletIndex:     *req.BulletIndex,
		IterationNumber: req.IterationNumber,
		BulletText:      req.BulletText,
		Rationale:       req.Rationale,
		UserRating:      req.UserRating,
		UserFeedback:    req.UserFeedback,
		IsFinal:         req.IsFinal,
	})
	if err != nil {
		h.writeError(c, err, "failed to save iteration")
		return
	}
	markEvent(c, req.SessionID, progress.EventIterationSaved)
	respond.Created(c, saved)
}

func (h *Handler) generateAlignedProfile(c *gin.Context) {
	var req sessionRequest
	if !h.bind(c, &req) {
		return
	}
	text, err := h.Svc.GenerateAlignedProfile(c.Request.Context(), owner(c), req.SessionID)
	if err != nil {
		h.writeError(c, err, "failed to generate aligned profile")
		return
	}
	markEvent(c, req.SessionID, progress.EventAlignedGenerated)
	respond.OK(c, gin.H{"text": text})
}

func (h *Handler) markCompleted(c *gin.Context) {
	var req sessionRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.Svc.MarkCompleted(c.Request.Context(), owner(c), req.SessionID); err != nil {
		h.writeError(c, err, "failed to mark session completed")
		return
	}
	markEvent(c, req.SessionID, progress.EventSessionCompleted)
	respond.OK(c, gin.H{"completed": true})
}

type finalFeedbackRequest struct {
	SessionID      string                   `json:"session_id" validate:"required"`
	DraftMapping   compare.Mapping          `json:"draft_mapping"`
	Ratings        compare.Ratings          `json:"ratings"`
	Feedback       map[string]DraftFeedback `json:"feedback"`
	Preference     string                   `json:"preference"`
	Comments       string                   `json:"comments"`
	Resume         string                   `json:"resume"`
	JobDescription string                   `json:"job_description"`
}

func (h *Handler) submitFinalFeedback(c *gin.Context) {
	var req finalFeedbackRequest
	if !h.bind(c, &req) {
		return
	}
	pref, err := h.Svc.SubmitFinalFeedback(c.Request.Context(), owner(c), req.SessionID, FinalInput{
		DraftMapping: req.DraftMapping,
		Ratings:      req.Ratings,
		Feedback:     req.Feedback,
		Comments:     req.Comments,
	})
	if err != nil {
		h.writeError(c, err, "failed to submit feedback")
		return
	}
	markEvent(c, req.SessionID, progress.EventFinalFeedback)
	respond.OK(c, gin.H{"preference": pref})
}

func (h *Handler) coverLetter(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body", nil)
		return
	}
	letter, err := h.Svc.CoverLetter(c.Request.Context(), req.ResumeText, req.JobDesc)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			badRequest(c, "Missing resume text or job description", nil)
			return
		}
		h.writeError(c, err, "Error processing cover letter")
		return
	}
	c.Set("progressEvent", progress.EventCoverLetterGenerated)
	respond.OK(c, gin.H{"cover_letter": letter})
}

// bind decodes and validates a JSON body, writing a 400 on failure.
func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, "invalid request body", nil)
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Namespace())
			}
			badRequest(c, "invalid request fields", gin.H{"fields": fields})
			return false
		}
		badRequest(c, err.Error(), nil)
		return false
	}
	return true
}

func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, prompts.ErrInvalidInput):
		badRequest(c, err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "session not found", nil)
	case errors.Is(err, ErrConflict):
		respond.Error(c, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, llm.ErrDisabled):
		respond.Error(c, http.StatusServiceUnavailable, "llm_disabled", "text generation is not configured", nil)
	case errors.Is(err, context.Canceled):
		respond.Error(c, 499, "request_canceled", "request canceled", nil)
	case errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusGatewayTimeout, "generation_timeout", "text generation timed out", nil)
	case errors.Is(err, ErrGeneration):
		respond.Error(c, http.StatusBadGateway, "generation_failed", fallback, nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

func badRequest(c *gin.Context, msg string, details any) {
	respond.Error(c, http.StatusBadRequest, "validation_error", msg, details)
}

func owner(c *gin.Context) Owner {
	token := middleware.AccessTokenFromContext(c)
	return Owner{Token: token, TokenRef: middleware.TokenRef(token)}
}

func markEvent(c *gin.Context, sessionID, event string) {
	c.Set("sessionId", sessionID)
	c.Set("progressEvent", event)
}
