package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/courseloop/simulation-backend/internal/middleware"
	"github.com/courseloop/simulation-backend/internal/model"
	"github.com/courseloop/simulation-backend/internal/repository"
	"github.com/courseloop/simulation-backend/internal/response"
	"github.com/courseloop/simulation-backend/internal/service"
	"github.com/courseloop/simulation-backend/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TestHandler handles the test lifecycle endpoints.
type TestHandler struct {
	simService *service.SimulationService
}

// NewTestHandler creates a new TestHandler.
func NewTestHandler(simService *service.SimulationService) *TestHandler {
	return &TestHandler{simService: simService}
}

// StartTest godoc
// POST /api/v1/student/suites/:suite_id/tests
// Starts a timed test attempt against a subscribed suite.
func (h *TestHandler) StartTest(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	suiteID, err := uuid.Parse(c.Param("suite_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.StartTestRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	test, err := h.simService.StartTest(c.Request.Context(), claims.StudentID, suiteID, req.Mode)
	if err != nil {
		failSimulation(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"test": test})
}

// PauseTest godoc
// POST /api/v1/student/tests/:test_id/pause
func (h *TestHandler) PauseTest(c *gin.Context) {
	h.transition(c, h.simService.PauseTest)
}

// ResumeTest godoc
// POST /api/v1/student/tests/:test_id/resume
func (h *TestHandler) ResumeTest(c *gin.Context) {
	h.transition(c, h.simService.ResumeTest)
}

// EndTest godoc
// POST /api/v1/student/tests/:test_id/end
func (h *TestHandler) EndTest(c *gin.Context) {
	h.transition(c, h.simService.EndTest)
}

// SubmitAnswer godoc
// POST /api/v1/student/tests/:test_id/answers
// Stores or revises an answer on a running test.
func (h *TestHandler) SubmitAnswer(c *gin.Context) {
	claims, testID, ok := h.testParams(c)
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	answer, err := h.simService.SubmitAnswer(c.Request.Context(), claims.StudentID, testID, &req)
	if err != nil {
		failSimulation(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"answer": answer})
}

// GetAttemptedAnswers godoc
// GET /api/v1/student/tests/:test_id/answers
func (h *TestHandler) GetAttemptedAnswers(c *gin.Context) {
	claims, testID, ok := h.testParams(c)
	if !ok {
		return
	}

	answers, err := h.simService.GetAttemptedAnswers(c.Request.Context(), claims.StudentID, testID)
	if err != nil {
		failSimulation(c, err)
		return
	}
	if answers == nil {
		answers = []model.SubmittedAnswer{}
	}

	response.Success(c, http.StatusOK, gin.H{"answers": answers})
}

// GetQuestion godoc
// GET /api/v1/student/tests/:test_id/question
// Returns a random unanswered question from the test's suite.
func (h *TestHandler) GetQuestion(c *gin.Context) {
	claims, testID, ok := h.testParams(c)
	if !ok {
		return
	}

	question, err := h.simService.GetQuestion(c.Request.Context(), claims.StudentID, testID)
	if err != nil {
		failSimulation(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"question": question})
}

// GetTestStats godoc
// GET /api/v1/student/tests/:test_id/stats
// Returns worker-computed aggregates for an ended test.
func (h *TestHandler) GetTestStats(c *gin.Context) {
	claims, testID, ok := h.testParams(c)
	if !ok {
		return
	}

	stats, err := h.simService.GetTestStats(c.Request.Context(), claims.StudentID, testID)
	if err != nil {
		failSimulation(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"stats": stats})
}

// GetActiveTest godoc
// GET /api/v1/student/active-test
// Returns the student's current ON_GOING or PAUSED test with live remaining time.
func (h *TestHandler) GetActiveTest(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	test, remaining, err := h.simService.GetActiveTest(c.Request.Context(), claims.StudentID)
	if err != nil {
		failSimulation(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"test":         test,
		"remaining_ms": remaining.Milliseconds(),
	})
}

// transition runs one of the pause/resume/end lifecycle operations.
func (h *TestHandler) transition(c *gin.Context, op func(ctx context.Context, studentID, testID uuid.UUID) (*model.Test, error)) {
	claims, testID, ok := h.testParams(c)
	if !ok {
		return
	}

	test, err := op(c.Request.Context(), claims.StudentID, testID)
	if err != nil {
		failSimulation(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"test": test})
}

func (h *TestHandler) testParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}
	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, testID, true
}

// failSimulation maps simulation service errors onto HTTP error codes.
func failSimulation(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrConflict):
		response.Fail(c, http.StatusConflict, response.ErrTestConflict)
	case errors.Is(err, service.ErrTestEnded):
		response.Fail(c, http.StatusConflict, response.ErrTestEnded)
	case errors.Is(err, service.ErrTestPaused):
		response.Fail(c, http.StatusConflict, response.ErrTestPaused)
	case errors.Is(err, service.ErrTestNotEnded):
		response.Fail(c, http.StatusConflict, response.ErrTestNotEnded)
	case errors.Is(err, service.ErrComplete):
		response.Fail(c, http.StatusConflict, response.ErrSuiteComplete)
	case errors.Is(err, repository.ErrInvariantViolation):
		response.Fail(c, http.StatusConflict, response.ErrInvariantViolation)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
