package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/publome/publishing-api/internal/repository"
	"github.com/publome/publishing-api/internal/service"
	"github.com/publome/publishing-api/internal/transfer"
)

type PostHandler struct {
	s  service.PostService
	tj repository.ThreadJobRepository
}

func NewPostHandler(service service.PostService, tj repository.ThreadJobRepository) *PostHandler {
	return &PostHandler{s: service, tj: tj}
}

// CreatePost accepts a multipart form describing the post. The post is stored
// as pending; the dispatcher picks it up once its scheduled time arrives.
func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	form, err := c.MultipartForm()
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	files := form.File["files"]

	_, err = h.s.CreatePost(c.Context(), userID, &transfer.PostCreation{
		Caption:          c.FormValue("caption"),
		PlatformCaptions: c.FormValue("platform_captions"),
		ThreadParts:      c.FormValue("thread_parts"),
		Platforms:        c.FormValue("platforms"),
		ScheduledTime:    c.FormValue("scheduled_time"),
		IsDraft:          c.FormValue("is_draft") == "true"},
		files)

	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Post scheduled successfully",
	})
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userId := GetUserID(c)
	postId := c.QueryInt("id", 0)

	if postId != 0 {
		post, err := h.s.PostInfo(c.Context(), int64(postId), userId)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unable to list posts",
			})
		}

		return c.Status(fiber.StatusOK).JSON(post)

	}

	posts, err := h.s.List(c.Context(), userId)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list posts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

// ThreadJobInfo exposes the durable state of a chained thread job so callers
// can watch a thread publish step by step.
func (h *PostHandler) ThreadJobInfo(c *fiber.Ctx) error {
	jobId, err := c.ParamsInt("id", 0)
	if err != nil || jobId == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid job id",
		})
	}

	job, err := h.tj.GetByID(c.Context(), int64(jobId))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to get thread job",
		})
	}
	if job == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Thread job not found",
		})
	}

	return c.Status(fiber.StatusOK).JSON(job)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	postId := c.QueryInt("id", 0)

	err := h.s.Remove(c.Context(), userID, int64(postId))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to remove post",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
