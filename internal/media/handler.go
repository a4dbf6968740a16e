package media

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mediaforge/backend/internal/middleware"
	"github.com/mediaforge/backend/internal/models"
	"github.com/mediaforge/backend/internal/quota"
	"github.com/mediaforge/backend/pkg/response"
)

var extPattern = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,8}$`)

// ConvertRequest is the body for POST /media/convert.
type ConvertRequest struct {
	FileID  string            `json:"fileId" binding:"required"`
	Options ConversionOptions `json:"options"`
}

// JobStatusResponse is the polled job snapshot.
type JobStatusResponse struct {
	Status         string  `json:"status"`
	Progress       int     `json:"progress"`
	OutputFileName *string `json:"outputFileName"`
	Error          *string `json:"error"`
}

// Handler handles media HTTP endpoints: upload, convert, job status.
type Handler struct {
	ledger    *Ledger
	executor  *Executor
	quota     *quota.Gatekeeper
	uploadDir string
	outputDir string
	maxUpload int64
	logger    *zap.Logger
}

// NewHandler creates a media handler.
func NewHandler(ledger *Ledger, executor *Executor, gatekeeper *quota.Gatekeeper, uploadDir, outputDir string, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		ledger:    ledger,
		executor:  executor,
		quota:     gatekeeper,
		uploadDir: uploadDir,
		outputDir: outputDir,
		maxUpload: maxUploadBytes,
		logger:    logger,
	}
}

// Upload handles POST /media/upload (multipart form field "video").
// The stored name is the file identifier returned to the client; the
// original name never touches the filesystem.
func (h *Handler) Upload(c *gin.Context) {
	file, err := c.FormFile("video")
	if err != nil {
		response.BadRequest(c, "no file uploaded (form field: video)")
		return
	}
	if file.Size > h.maxUpload {
		response.BadRequest(c, "file size exceeds upload limit")
		return
	}

	ext := filepath.Ext(file.Filename)
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	fileID := "video-" + uuid.NewString() + ext

	if err := c.SaveUploadedFile(file, filepath.Join(h.uploadDir, fileID)); err != nil {
		h.logger.Error("save upload failed", zap.Error(err), zap.String("file_id", fileID))
		response.Internal(c, "failed to store uploaded file")
		return
	}
	response.OK(c, gin.H{"fileId": fileID})
}

// Convert handles POST /media/convert. All validation and the quota gate
// run before the job record exists; once the record is created the
// request returns 202 with the job id and the engine runs detached.
func (h *Handler) Convert(c *gin.Context) {
	var req ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	plan, err := BuildPlan(req.Options, req.FileID, h.uploadDir, h.outputDir)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if _, err := os.Stat(plan.InputPath); err != nil {
		response.NotFound(c, "uploaded file not found")
		return
	}

	decision, err := h.quota.CheckAndReserve(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, quota.ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		h.logger.Error("quota check failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "quota check failed")
		return
	}
	if !decision.Allowed {
		response.Forbidden(c, decision.Reason)
		return
	}

	job := h.ledger.Create(userID, plan.InputPath, plan.OutputPath)
	h.executor.Start(job, plan)

	h.logger.Info("conversion accepted",
		zap.String("job_id", job.ID),
		zap.String("user_id", userID.String()),
		zap.String("file_id", req.FileID),
		zap.String("output", plan.OutputName),
	)
	c.JSON(http.StatusAccepted, response.Body{Success: true, Data: gin.H{"jobId": job.ID}})
}

// JobStatus handles GET /media/jobs/:id.
func (h *Handler) JobStatus(c *gin.Context) {
	job, ok := h.ledger.Get(c.Param("id"))
	if !ok {
		response.NotFound(c, "job not found")
		return
	}
	response.OK(c, toStatusResponse(job))
}

// ListJobs handles GET /admin/jobs (admin only).
func (h *Handler) ListJobs(c *gin.Context) {
	response.OK(c, h.ledger.List())
}

func toStatusResponse(job models.Job) JobStatusResponse {
	resp := JobStatusResponse{
		Status:   string(job.Status),
		Progress: job.Progress,
	}
	if job.OutputFileName != "" {
		name := job.OutputFileName
		resp.OutputFileName = &name
	}
	if job.Error != "" {
		msg := job.Error
		resp.Error = &msg
	}
	return resp
}
