package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/publome/publishing-api/configs"
	job "github.com/publome/publishing-api/internal/jobs"
	"github.com/publome/publishing-api/internal/service"
)

// TriggerHandler exposes the background jobs over HTTP so an external
// scheduler can drive them. Guarded by a shared bearer secret, not user auth.
type TriggerHandler struct {
	pj  *job.PublishJob
	cs  *service.MediaCleanupService
	cfg config.Config
}

func NewTriggerHandler(pj *job.PublishJob, cs *service.MediaCleanupService, cfg config.Config) *TriggerHandler {
	return &TriggerHandler{pj: pj, cs: cs, cfg: cfg}
}

func (h *TriggerHandler) authorize(c *fiber.Ctx) bool {
	if h.cfg.CronSecret == "" {
		return false
	}
	auth := c.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ") == h.cfg.CronSecret
}

func (h *TriggerHandler) TriggerDispatch(c *fiber.Ctx) error {
	if !h.authorize(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	h.pj.Run()

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Dispatch run completed",
	})
}

func (h *TriggerHandler) TriggerMediaCleanup(c *fiber.Ctx) error {
	if !h.authorize(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	dryRun := c.QueryBool("dry_run", false)

	report, err := h.cs.Reconcile(c.Context(), 24*time.Hour, dryRun)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(report)
}
