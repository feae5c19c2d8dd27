package controller

import (
	"uplink-service/chat"

	"github.com/gofiber/fiber/v2"
)

type ChatDirectInput struct {
	UserID string `json:"user_id"`
}

type ChatGroupInput struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

type ChatEditInput struct {
	Content string `json:"content"`
}

func (h *Controller) ChatConversations(c *fiber.Ctx) error {
	views, err := h.chat.ListConversations(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, views)
}

func (h *Controller) ChatDirect(c *fiber.Ctx) error {
	input := new(ChatDirectInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	id, err := h.chat.CreateDirectConversation(c.UserContext(), input.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, fiber.Map{"id": id})
}

func (h *Controller) ChatGroup(c *fiber.Ctx) error {
	input := new(ChatGroupInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	id, err := h.chat.CreateGroupConversation(c.UserContext(), input.Name, input.MemberIDs)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, fiber.Map{"id": id})
}

// ChatMessages answers 200 for a non-participant too; the outcome field
// says why the list is empty.
func (h *Controller) ChatMessages(c *fiber.Ctx) error {
	res, err := h.chat.ListMessages(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, res)
}

func (h *Controller) ChatSend(c *fiber.Ctx) error {
	input := new(chat.SendInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}
	input.ConversationID = c.Params("id")

	msg, err := h.chat.Send(c.UserContext(), *input)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, msg)
}

func (h *Controller) ChatRead(c *fiber.Ctx) error {
	if err := h.chat.MarkRead(c.UserContext(), c.Params("id")); err != nil {
		return h.fail(c, err)
	}
	return success(c, nil)
}

func (h *Controller) ChatEdit(c *fiber.Ctx) error {
	input := new(ChatEditInput)
	if err := c.BodyParser(input); err != nil {
		return reviewInput(c)
	}

	msg, err := h.chat.EditMessage(c.UserContext(), c.Params("id"), input.Content)
	if err != nil {
		return h.fail(c, err)
	}
	return success(c, msg)
}
