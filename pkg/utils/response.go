package utils

import "github.com/gofiber/fiber/v2"

func Success(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// Denied writes the one denial response used for every authorization
// failure on resource routes. Callers must not vary the message or
// status, so a denied request cannot be used to probe whether a
// resource exists.
func Denied(c *fiber.Ctx) error {
	return Error(c, fiber.StatusForbidden, "access denied")
}

func Paginated(c *fiber.Ctx, data interface{}, page, limit int, total int64) error {
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"data":    data,
		"pagination": fiber.Map{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": totalPages,
		},
	})
}
