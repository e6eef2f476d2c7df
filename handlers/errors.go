package handlers

import (
	"gold-accrual-engine/apperrors"
	"gold-accrual-engine/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// statusOf maps an error code to the HTTP status clients see.
func statusOf(code string) int {
	switch code {
	case apperrors.CodeNotFound:
		return fiber.StatusNotFound
	case apperrors.CodeValidation, apperrors.CodeRestorationValidation, apperrors.CodeInsufficientGold:
		return fiber.StatusBadRequest
	case apperrors.CodeOutOfOrderSnapshot, apperrors.CodeRunInProgress:
		return fiber.StatusConflict
	case apperrors.CodeBackupIntegrity:
		return fiber.StatusUnprocessableEntity
	case apperrors.CodeOwnershipFetch:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, err error) error {
	code := apperrors.CodeOf(err)
	status := statusOf(code)
	if status >= fiber.StatusInternalServerError {
		logger.WithFields(logrus.Fields{"path": c.Path(), "method": c.Method()}).WithError(err).Error("❌ [HTTP] Request failed")
	}
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  apperrors.CodeValidation,
	})
}
