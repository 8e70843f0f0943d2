package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"prowler/internal/model"
	"prowler/internal/orchestrator"
	"prowler/internal/store"
)

// fail maps engine errors onto status codes and the error envelope.
func fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrInvalidURL):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Code: "INVALID_URL", Error: err.Error()})
	case errors.Is(err, model.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Code: "INVALID_INPUT", Error: err.Error()})
	case errors.Is(err, model.ErrJobNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Code: "JOB_NOT_FOUND", Error: err.Error()})
	case errors.Is(err, model.ErrIllegalTransition):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Code: "ILLEGAL_TRANSITION", Error: err.Error()})
	case errors.Is(err, model.ErrNoContent):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Code: "NO_CONTENT", Error: err.Error()})
	case errors.Is(err, model.ErrUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Code: "UNAVAILABLE", Error: err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Code: "INTERNAL", Error: err.Error()})
	}
}

func badJSON(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Code:  "BAD_REQUEST_INVALID_JSON",
		Error: "Bad request, malformed JSON",
	})
}

func parseJobID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, errors.Join(model.ErrInvalidInput, err)
	}
	return id, nil
}

func (s *Server) createJobHandler(c *fiber.Ctx) error {
	var req CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c)
	}
	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Code: "BAD_REQUEST", Error: "Missing required field 'url'",
		})
	}

	job, err := s.svc.CreateJob(c.Context(), orchestrator.CreateRequest{
		URL:             req.URL,
		TaskDescription: req.TaskDescription,
		ScraperType:     model.NormalizeScraperType(req.ScraperType),
		Options:         req.Options,
		UserID:          req.UserID,
		SessionID:       req.SessionID,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(JobResponse{Success: true, Job: job})
}

func (s *Server) getJobHandler(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return fail(c, err)
	}
	job, err := s.svc.GetJob(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(JobResponse{Success: true, Job: job})
}

func (s *Server) listJobsHandler(c *fiber.Ctx) error {
	filter := store.ListFilter{
		Status: model.Status(c.Query("status")),
		UserID: c.Query("userId"),
		Limit:  c.QueryInt("limit"),
		Offset: c.QueryInt("offset"),
	}
	jobs, total, err := s.svc.ListJobs(c.Context(), filter)
	if err != nil {
		return fail(c, err)
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	return c.JSON(JobListResponse{Success: true, Jobs: jobs, Total: total})
}

func (s *Server) deleteJobHandler(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return fail(c, err)
	}
	if err := s.svc.DeleteJob(c.Context(), id); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) cancelJobHandler(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return fail(c, err)
	}
	job, err := s.svc.CancelJob(c.Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(JobResponse{Success: true, Job: job})
}

func (s *Server) chatHandler(c *fiber.Ctx) error {
	id, err := parseJobID(c)
	if err != nil {
		return fail(c, err)
	}
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c)
	}
	if req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Code: "BAD_REQUEST", Error: "Missing required field 'message'",
		})
	}

	job, reply, err := s.svc.ChatWithJob(c.Context(), id, req.Message)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(ChatResponse{Success: true, Reply: reply, Job: job})
}

func (s *Server) answerHandler(c *fiber.Ctx) error {
	var req AnswerRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c)
	}
	if req.Input == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Code: "BAD_REQUEST", Error: "Missing required field 'input'",
		})
	}

	res, err := s.svc.ScrapeAndAnswer(c.Context(), req.Input, req.Options, req.UserID, req.SessionID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "job": res.Job, "answer": res.Answer})
}
