package controller

import (
	"uplink-service/account"

	"github.com/gofiber/fiber/v2"
)

func (h *Controller) AdminInvite(c *fiber.Ctx) error {
	input := new(account.InviteInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	inv, err := h.accounts.InviteMember(c.UserContext(), *input)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":  "success",
		"message": nil,
		"data":    inv,
	})
}

func (h *Controller) AdminDelete(c *fiber.Ctx) error {
	if err := h.accounts.DeleteMember(c.UserContext(), c.Params("id")); err != nil {
		return h.fail(c, err)
	}
	return success(c, nil)
}

func (h *Controller) AdminResetPassword(c *fiber.Ctx) error {
	password, err := h.accounts.ResetPassword(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, fiber.Map{"temporary_password": password})
}
