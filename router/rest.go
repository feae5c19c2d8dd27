package router

import (
	"uplink-service/account"
	"uplink-service/controller"
	"uplink-service/metrics"
	"uplink-service/middleware"
	"uplink-service/utils"

	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	passwordPath = "/v1/auth/password"
	signoutPath  = "/v1/auth/signout"
)

func Rest(app *fiber.App, h *controller.Controller, issuer *utils.TokenIssuer, accounts *account.Service, enforcer casbin.IEnforcer) {
	app.Use(metrics.Middleware())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/api/health", h.Health)

	api := app.Group("/v1", logger.New())

	jwt := middleware.JWT(issuer.AccessKey())
	otp := middleware.OTP()
	password := middleware.ForcePasswordChange(accounts, passwordPath, signoutPath)
	rbac := middleware.RBAC(enforcer)

	// Auth
	auth := api.Group("/auth")
	auth.Post("/signin", h.AuthSignin)
	auth.Post("/token/renew", h.AuthTokenRenew)
	auth.Post("/signout", jwt, h.AuthSignout)
	auth.Get("/password", jwt, otp, h.AuthPasswordStatus)
	auth.Post("/password", jwt, otp, h.AuthPasswordUpdate)
	auth.Post("/2fa/secret", jwt, otp, password, h.AuthOtpSecret)
	auth.Post("/2fa/verify", jwt, otp, password, h.AuthOtpVerify)
	auth.Post("/2fa/validate", jwt, h.AuthOtpValidate)
	auth.Post("/2fa/disable", jwt, otp, password, h.AuthOtpDisable)

	// Chat
	chat := api.Group("/chat", jwt, otp, password, rbac)
	chat.Get("/conversations", h.ChatConversations)
	chat.Post("/conversations/direct", h.ChatDirect)
	chat.Post("/conversations/group", h.ChatGroup)
	chat.Get("/conversations/:id/messages", h.ChatMessages)
	chat.Post("/conversations/:id/messages", h.ChatSend)
	chat.Post("/conversations/:id/read", h.ChatRead)
	chat.Patch("/messages/:id", h.ChatEdit)

	// Profile
	profile := api.Group("/profile", jwt, otp, password, rbac)
	profile.Get("", h.ProfileSelf)
	profile.Patch("", h.ProfileUpdate)
	profile.Get("/all", h.ProfileList)
	profile.Post("/heartbeat", h.ProfileHeartbeat)
	profile.Get("/:id", h.ProfileGet)

	// Upload
	upload := api.Group("/upload", jwt, otp, password, rbac)
	upload.Post("/:bucket", h.Upload)

	// Admin
	admin := api.Group("/admin", jwt, otp, password, rbac)
	admin.Post("/members", h.AdminInvite)
	admin.Delete("/members/:id", h.AdminDelete)
	admin.Post("/members/:id/password", h.AdminResetPassword)
}
