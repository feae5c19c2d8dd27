package controller

import (
	"uplink-service/model"

	"github.com/gofiber/fiber/v2"
)

type ProfileHeartbeatInput struct {
	Status string `json:"status"`
}

func (h *Controller) ProfileSelf(c *fiber.Ctx) error {
	profile, err := h.accounts.GetProfile(c.UserContext(), "")
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, profile)
}

func (h *Controller) ProfileGet(c *fiber.Ctx) error {
	profile, err := h.accounts.GetProfile(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, profile)
}

func (h *Controller) ProfileList(c *fiber.Ctx) error {
	profiles, err := h.accounts.ListProfiles(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, profiles)
}

func (h *Controller) ProfileUpdate(c *fiber.Ctx) error {
	input := new(model.ProfileUpdate)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	profile, err := h.accounts.UpdateProfile(c.UserContext(), *input)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, profile)
}

func (h *Controller) ProfileHeartbeat(c *fiber.Ctx) error {
	input := new(ProfileHeartbeatInput)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(input); err != nil {
			return reviewInput(c)
		}
	}

	if err := h.accounts.Heartbeat(c.UserContext(), input.Status); err != nil {
		return h.fail(c, err)
	}
	return success(c, nil)
}
