package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"uplink-service/account"
	"uplink-service/chat"
	"uplink-service/config"
	"uplink-service/controller"
	"uplink-service/database"
	"uplink-service/database/dbtest"
	"uplink-service/model"
	"uplink-service/router"
	"uplink-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type tokens struct {
	mu sync.Mutex
	m  map[string]string
}

func (s *tokens) Save(_ context.Context, userID, token string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[userID] = token
	return nil
}

func (s *tokens) Get(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[userID]
	if !ok {
		return "", account.ErrTokenNotFound
	}
	return t, nil
}

func (s *tokens) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, userID)
	return nil
}

type envelope struct {
	Status  string          `json:"status"`
	Message *string         `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type harness struct {
	t   *testing.T
	app *fiber.App
	db  *gorm.DB
}

func newHarness(t *testing.T, checks ...controller.Check) *harness {
	t.Helper()
	db := dbtest.Open(t)
	log := zap.NewNop()
	issuer := utils.NewTokenIssuer(config.JWTConfig{AccessKey: "access", RefreshKey: "refresh", AccessExpire: 5, RefreshExpire: 60})
	enforcer, err := database.Casbin(db)
	require.NoError(t, err)

	chats := chat.NewService(db, nil, log, "General")
	accounts := account.NewService(db, &tokens{m: map[string]string{}}, issuer, chats, nil, log, "Uplink")

	app := fiber.New()
	router.Rest(app, controller.New(accounts, chats, nil, checks, log), issuer, accounts, enforcer)
	return &harness{t: t, app: app, db: db}
}

func (h *harness) user(id, role string, force bool) {
	h.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password1"), bcrypt.MinCost)
	require.NoError(h.t, err)
	name := id
	require.NoError(h.t, h.db.Create(&model.User{ID: id, Email: id + "@agency.test", Password: string(hash), Role: role}).Error)
	require.NoError(h.t, h.db.Create(&model.Profile{ID: id, Email: id + "@agency.test", DisplayName: &name, ForcePasswordChange: force}).Error)
}

func (h *harness) do(method, path, token string, body any) (int, envelope) {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	if len(raw) > 0 {
		require.NoError(h.t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func (h *harness) signin(id string) string {
	h.t.Helper()
	status, env := h.do("POST", "/v1/auth/signin", "", fiber.Map{"email": id + "@agency.test", "password": "password1"})
	require.Equal(h.t, http.StatusOK, status)
	var res account.SignInResult
	require.NoError(h.t, json.Unmarshal(env.Data, &res))
	return res.Tokens.Access
}

func TestSignInRejectsBadPassword(t *testing.T) {
	h := newHarness(t)
	h.user("ana", model.RoleMember, false)

	status, env := h.do("POST", "/v1/auth/signin", "", fiber.Map{"email": "ana@agency.test", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "error", env.Status)
	require.NotNil(t, env.Message)
	assert.Equal(t, "Invalid email or password", *env.Message)
}

func TestDirectConversationSendAndRead(t *testing.T) {
	h := newHarness(t)
	h.user("ana", model.RoleMember, false)
	h.user("bob", model.RoleMember, false)
	ana, bob := h.signin("ana"), h.signin("bob")

	status, env := h.do("POST", "/v1/chat/conversations/direct", ana, fiber.Map{"user_id": "bob"})
	require.Equal(t, http.StatusOK, status)
	var created struct{ ID string }
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.NotEmpty(t, created.ID)

	status, env = h.do("POST", "/v1/chat/conversations/direct", bob, fiber.Map{"user_id": "ana"})
	require.Equal(t, http.StatusOK, status)
	var again struct{ ID string }
	require.NoError(t, json.Unmarshal(env.Data, &again))
	assert.Equal(t, created.ID, again.ID)

	status, _ = h.do("POST", "/v1/chat/conversations/"+created.ID+"/messages", ana, chat.SendInput{Content: "hello", ClientID: "c-1"})
	require.Equal(t, http.StatusOK, status)

	status, env = h.do("GET", "/v1/chat/conversations", bob, nil)
	require.Equal(t, http.StatusOK, status)
	var views []model.ConversationView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, 1, views[0].UnreadCount)

	status, env = h.do("GET", "/v1/chat/conversations/"+created.ID+"/messages", bob, nil)
	require.Equal(t, http.StatusOK, status)
	var res chat.MessagesResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, chat.OutcomeOK, res.Outcome)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "hello", res.Messages[0].Content)

	status, _ = h.do("POST", "/v1/chat/conversations/"+created.ID+"/read", bob, nil)
	require.Equal(t, http.StatusOK, status)
	_, env = h.do("GET", "/v1/chat/conversations", bob, nil)
	require.NoError(t, json.Unmarshal(env.Data, &views))
	assert.Equal(t, 0, views[0].UnreadCount)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	h := newHarness(t)
	h.user("ana", model.RoleMember, false)
	h.user("vic", model.RoleViewer, false)
	ana, vic := h.signin("ana"), h.signin("vic")

	status, _ := h.do("POST", "/v1/chat/conversations/direct", ana, fiber.Map{"user_id": "ana"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do("POST", "/v1/chat/conversations/direct", ana, fiber.Map{"user_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = h.do("POST", "/v1/chat/conversations/x/messages", vic, chat.SendInput{Content: "hi"})
	assert.Equal(t, http.StatusForbidden, status)

	status, env := h.do("GET", "/v1/chat/conversations/unknown/messages", ana, nil)
	assert.Equal(t, http.StatusOK, status)
	var res chat.MessagesResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, chat.OutcomeNotParticipant, res.Outcome)

	status, _ = h.do("POST", "/v1/admin/members", ana, account.InviteInput{Email: "new@agency.test"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = h.do("POST", "/v1/upload/avatars", ana, nil)
	assert.Equal(t, http.StatusBadGateway, status)
}

func TestViewerMarksConversationRead(t *testing.T) {
	h := newHarness(t)
	h.user("ana", model.RoleMember, false)
	h.user("vic", model.RoleViewer, false)
	ana, vic := h.signin("ana"), h.signin("vic")

	status, env := h.do("POST", "/v1/chat/conversations/direct", vic, fiber.Map{"user_id": "ana"})
	require.Equal(t, http.StatusOK, status)
	var created struct{ ID string }
	require.NoError(t, json.Unmarshal(env.Data, &created))

	status, _ = h.do("POST", "/v1/chat/conversations/"+created.ID+"/messages", ana, chat.SendInput{Content: "hello vic"})
	require.Equal(t, http.StatusOK, status)

	var views []model.ConversationView
	_, env = h.do("GET", "/v1/chat/conversations", vic, nil)
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 1)
	require.Equal(t, 1, views[0].UnreadCount)

	status, _ = h.do("POST", "/v1/chat/conversations/"+created.ID+"/read", vic, nil)
	require.Equal(t, http.StatusOK, status)
	_, env = h.do("GET", "/v1/chat/conversations", vic, nil)
	require.NoError(t, json.Unmarshal(env.Data, &views))
	assert.Equal(t, 0, views[0].UnreadCount)

	status, _ = h.do("POST", "/v1/chat/conversations/"+created.ID+"/messages", vic, chat.SendInput{Content: "reply"})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = h.do("POST", "/v1/chat/conversations/group", vic, controller.ChatGroupInput{Name: "x", MemberIDs: []string{"ana"}})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestForcedPasswordChangeGate(t *testing.T) {
	h := newHarness(t)
	h.user("tia", model.RoleMember, true)
	tia := h.signin("tia")

	status, env := h.do("GET", "/v1/chat/conversations", tia, nil)
	assert.Equal(t, http.StatusForbidden, status)
	require.NotNil(t, env.Message)
	assert.Equal(t, "password change required", *env.Message)

	status, env = h.do("GET", "/v1/auth/password", tia, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"force_password_change":true}`, string(env.Data))

	status, _ = h.do("POST", "/v1/auth/password", tia, fiber.Map{"password": "short"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do("POST", "/v1/auth/password", tia, fiber.Map{"password": "a-better-one"})
	require.Equal(t, http.StatusOK, status)

	status, _ = h.do("GET", "/v1/chat/conversations", tia, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestProfileRoutes(t *testing.T) {
	h := newHarness(t)
	h.user("ana", model.RoleMember, false)
	h.user("bob", model.RoleViewer, false)
	ana := h.signin("ana")

	status, env := h.do("PATCH", "/v1/profile", ana, fiber.Map{"about": "PM"})
	require.Equal(t, http.StatusOK, status)
	var p model.Profile
	require.NoError(t, json.Unmarshal(env.Data, &p))
	require.NotNil(t, p.About)
	assert.Equal(t, "PM", *p.About)

	status, env = h.do("GET", "/v1/profile/all", ana, nil)
	require.Equal(t, http.StatusOK, status)
	var all []model.Profile
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Len(t, all, 2)

	status, _ = h.do("GET", "/v1/profile/bob", ana, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = h.do("POST", "/v1/profile/heartbeat", ana, nil)
	assert.Equal(t, http.StatusOK, status)
	_, env = h.do("GET", "/v1/profile", ana, nil)
	require.NoError(t, json.Unmarshal(env.Data, &p))
	require.NotNil(t, p.Status)
	assert.Equal(t, model.StatusOnline, *p.Status)
	assert.NotNil(t, p.LastSeen)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, controller.Check{Name: "postgres", Ping: func(context.Context) error { return nil }})
	status, env := h.do("GET", "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"state":"operational"}`, string(env.Data))
}

func TestHealthReportsFailingDependency(t *testing.T) {
	h := newHarness(t, controller.Check{Name: "redis", Ping: func(context.Context) error { return errors.New("refused") }})
	status, env := h.do("GET", "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	require.NotNil(t, env.Message)
	assert.Equal(t, "redis unavailable", *env.Message)
}
