package storage

import (
	"strconv"
	"time"

	"backend-silksong/internal/auth"
	"backend-silksong/internal/shared/apperr"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/upload-url", authMiddleware, func(c *fiber.Ctx) error {
		target, err := svc.IssueUploadTarget(c.Context(), auth.CurrentUser(c))
		if err != nil {
			return apperr.HTTP(err)
		}
		return c.JSON(target)
	})

	r.Post("/upload/:token", func(c *fiber.Ctx) error {
		// fiber reuses the request buffer after the handler returns
		data := append([]byte(nil), c.Body()...)
		id, err := svc.Upload(c.Context(), c.Params("token"), c.Get(fiber.HeaderContentType), data)
		if err != nil {
			return apperr.HTTP(err)
		}
		return c.JSON(fiber.Map{"storage_id": id})
	})

	r.Get("/blobs/:id", func(c *fiber.Ctx) error {
		blob, err := svc.Open(c.Context(), c.Params("id"), c.Query("exp"), c.Query("sig"))
		if err != nil {
			return apperr.HTTP(err)
		}
		c.Set(fiber.HeaderContentType, blob.ContentType)
		c.Set(fiber.HeaderCacheControl, "private, max-age="+strconv.Itoa(int(svc.blobTTL/time.Second)))
		return c.Send(blob.Data)
	})
}
