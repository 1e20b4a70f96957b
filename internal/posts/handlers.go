package posts

import (
	"backend-silksong/internal/auth"
	"backend-silksong/internal/shared/apperr"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/", func(c *fiber.Ctx) error {
		page, err := svc.ListFeed(c.Context(), c.Query("q"), c.Query("cursor"), c.QueryInt("page_size", 0))
		if err != nil {
			return apperr.HTTP(err)
		}
		return c.JSON(page)
	})

	r.Get("/search", func(c *fiber.Ctx) error {
		items, err := svc.Search(c.Context(), c.Query("q"), c.QueryInt("limit", 0))
		if err != nil {
			return apperr.HTTP(err)
		}
		return c.JSON(fiber.Map{"items": items})
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		post, err := svc.GetPost(c.Context(), c.Params("id"))
		if err != nil {
			return apperr.HTTP(err)
		}
		return c.JSON(post)
	})

	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req CreatePostInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		id, err := svc.CreatePost(c.Context(), auth.CurrentUser(c), req)
		if err != nil {
			return apperr.HTTP(err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
	})
}
