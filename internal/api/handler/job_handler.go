package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/cuongbtq/detect-pipeline/internal/api/dto"
	"github.com/cuongbtq/detect-pipeline/internal/domain"
	"github.com/cuongbtq/detect-pipeline/internal/metrics"
	"github.com/cuongbtq/detect-pipeline/internal/results"
	"github.com/cuongbtq/detect-pipeline/internal/submitter"
)

// CreateJob handles POST /api/v1/jobs
// Accepts a multipart upload (image file, requester_ref field) and queues it for detection
func (h *JobHandler) CreateJob(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	fileHeader, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "image exceeds upload limit",
			})
			return
		}
		h.logger.Warn("Invalid upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "image file is required",
		})
		return
	}

	requesterRef := c.PostForm("requester_ref")
	if requesterRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "requester_ref is required",
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid image upload",
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid image upload",
		})
		return
	}

	jobID, err := h.submitter.Submit(c.Request.Context(), submitter.SubmitRequest{
		Data:         data,
		Filename:     fileHeader.Filename,
		ContentType:  fileHeader.Header.Get("Content-Type"),
		RequesterRef: requesterRef,
	})
	metrics.IncSubmission(err == nil)
	if err != nil {
		if domain.IsPermanent(err) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		h.logger.Error("Failed to submit job", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to submit job",
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{JobID: jobID})
}

// GetPrediction handles GET /api/v1/predictions/:job_id
// 404 means the job has not completed yet, or never existed
func (h *JobHandler) GetPrediction(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := ulid.ParseStrict(jobID); err != nil {
		h.logger.Warn("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid ULID",
		})
		return
	}

	summary, err := h.results.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrPredictionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":  "prediction not found",
				"job_id": jobID,
			})
			return
		}
		h.logger.Error("Failed to get prediction", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get prediction",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewPredictionDTO(summary))
}

// ListPredictions handles GET /api/v1/predictions
// Lists completed predictions newest first with cursor pagination
func (h *JobHandler) ListPredictions(c *gin.Context) {
	var req dto.ListPredictionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodePredictionCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	summaries, err := h.results.List(c.Request.Context(), results.ListFilter{
		RequesterRef: req.RequesterRef,
		PageSize:     req.PageSize,
		Cursor:       cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list predictions", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list predictions",
		})
		return
	}

	hasMore := len(summaries) > req.PageSize
	if hasMore {
		summaries = summaries[:req.PageSize]
	}

	resp := dto.ListPredictionsResponse{Predictions: make([]dto.PredictionDTO, len(summaries))}
	for i := range summaries {
		resp.Predictions[i] = dto.NewPredictionDTO(&summaries[i])
	}

	if hasMore {
		last := summaries[len(summaries)-1]
		resp.NextCursor = EncodePredictionCursor(results.Cursor{
			CompletedAt: last.CompletedAt,
			JobID:       last.JobID,
		})
	}

	c.JSON(http.StatusOK, resp)
}
