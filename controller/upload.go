package controller

import (
	"uplink-service/apperr"

	"github.com/gofiber/fiber/v2"
)

// Upload stores the multipart "file" field in the bucket named in the path.
func (h *Controller) Upload(c *fiber.Ctx) error {
	if h.storage == nil {
		return h.fail(c, apperr.Upstream("storage is not configured", nil))
	}

	header, err := c.FormFile("file")
	if err != nil {
		return reviewInput(c)
	}
	file, err := header.Open()
	if err != nil {
		return reviewInput(c)
	}
	defer file.Close()

	obj, err := h.storage.Upload(c.UserContext(), c.Params("bucket"), header.Filename,
		header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, obj)
}
