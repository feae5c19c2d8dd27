package controller

import (
	"github.com/gofiber/fiber/v2"
)

type AuthLoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthRenewTokenInput struct {
	RefreshToken string `json:"refresh_token"`
}

type AuthPasswordInput struct {
	Password string `json:"password"`
}

type AuthOtpSecretInput struct {
	Password string `json:"password"`
}

type AuthOtpTokenInput struct {
	Token string `json:"token"`
}

type AuthOtpDisableInput struct {
	Password string `json:"password"`
	Token    string `json:"token"`
}

func (h *Controller) AuthSignin(c *fiber.Ctx) error {
	input := new(AuthLoginInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	res, err := h.accounts.SignIn(c.UserContext(), input.Email, input.Password)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, res)
}

func (h *Controller) AuthTokenRenew(c *fiber.Ctx) error {
	input := new(AuthRenewTokenInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	res, err := h.accounts.RenewTokens(c.UserContext(), input.RefreshToken)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, res)
}

func (h *Controller) AuthSignout(c *fiber.Ctx) error {
	if err := h.accounts.SignOut(c.UserContext()); err != nil {
		return h.fail(c, err)
	}
	return success(c, nil)
}

// AuthPasswordStatus tells the client whether it has to show the forced
// password change before anything else.
func (h *Controller) AuthPasswordStatus(c *fiber.Ctx) error {
	profile, err := h.accounts.GetProfile(c.UserContext(), "")
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, fiber.Map{"force_password_change": profile.ForcePasswordChange})
}

func (h *Controller) AuthPasswordUpdate(c *fiber.Ctx) error {
	input := new(AuthPasswordInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	if err := h.accounts.UpdatePassword(c.UserContext(), input.Password); err != nil {
		return h.fail(c, err)
	}
	return success(c, nil)
}

func (h *Controller) AuthOtpSecret(c *fiber.Ctx) error {
	input := new(AuthOtpSecretInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	secret, err := h.accounts.OtpSecret(c.UserContext(), input.Password)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, secret)
}

func (h *Controller) AuthOtpVerify(c *fiber.Ctx) error {
	input := new(AuthOtpTokenInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	if err := h.accounts.OtpVerify(c.UserContext(), input.Token); err != nil {
		return h.fail(c, err)
	}
	return success(c, nil)
}

func (h *Controller) AuthOtpValidate(c *fiber.Ctx) error {
	input := new(AuthOtpTokenInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	tokens, err := h.accounts.OtpValidate(c.UserContext(), input.Token)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, tokens)
}

func (h *Controller) AuthOtpDisable(c *fiber.Ctx) error {
	input := new(AuthOtpDisableInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	if err := h.accounts.OtpDisable(c.UserContext(), input.Password, input.Token); err != nil {
		return h.fail(c, err)
	}
	return success(c, nil)
}
