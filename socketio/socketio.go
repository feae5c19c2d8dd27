package socketio

import (
	"context"
	"time"

	"uplink-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	enginelog "github.com/zishang520/engine.io/v2/log"
	"github.com/zishang520/socket.io-go-redis/adapter"
	r_type "github.com/zishang520/socket.io-go-redis/types"
	"github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

// Server is the socket.io endpoint. Every authenticated socket joins the
// room of its user, so events can target users across all their tabs and
// across instances sharing the redis adapter.
type Server struct {
	io      *socket.Server
	options *socket.ServerOptions
	log     *zap.Logger
}

// New builds the server. A nil redis client keeps the default in-memory
// adapter, which is only correct for a single instance. debug turns on the
// engine.io transport trace.
func New(ctx context.Context, issuer *utils.TokenIssuer, rdb *redis.Client, debug bool, log *zap.Logger) *Server {
	enginelog.DEBUG = debug

	options := socket.DefaultServerOptions()
	options.SetServeClient(false)
	options.SetAllowEIO3(true)
	options.SetPingInterval(25 * time.Second)
	options.SetPingTimeout(20 * time.Second)
	options.SetMaxHttpBufferSize(1000000)
	options.SetConnectTimeout(5 * time.Second)
	if rdb != nil {
		options.SetAdapter(&adapter.RedisAdapterBuilder{
			Redis: r_type.NewRedisClient(ctx, rdb),
			Opts:  &adapter.RedisAdapterOptions{},
		})
	}

	io := socket.NewServer(nil, options)

	io.Use(func(client *socket.Socket, next func(*socket.ExtendedError)) {
		token, ok := client.Conn().Request().Query().Get("token")
		if ok {
			claims, err := issuer.CheckAccess(token)
			// A session still waiting on its second factor stays anonymous.
			if err == nil && !claims.Otp {
				client.Join(UserRoom(claims.Id))
				client.SetData(claims)
			}
		}
		next(nil)
	})

	return &Server{io: io, options: options, log: log.Named("socketio")}
}

func UserRoom(userID string) socket.Room {
	return socket.Room("user:" + userID)
}

// Mount serves the socket.io transport on app.
func (s *Server) Mount(app *fiber.App) {
	handler := adaptor.HTTPHandler(s.io.ServeHandler(s.options))
	app.Get("/socket.io/", handler)
	app.Post("/socket.io/", handler)
}

// OnConnection registers fn for every socket that passed authentication.
// Anonymous sockets are disconnected.
func (s *Server) OnConnection(fn func(client *socket.Socket, claims *utils.TokenMetadata)) {
	s.io.On("connection", func(clients ...any) {
		client, ok := clients[0].(*socket.Socket)
		if !ok {
			return
		}
		claims, ok := client.Data().(*utils.TokenMetadata)
		if !ok || claims == nil {
			s.log.Debug("anonymous socket rejected", zap.String("socket_id", string(client.Id())))
			client.Disconnect(true)
			return
		}
		fn(client, claims)
	})
}

func (s *Server) EmitToUsers(userIDs []string, event string, payload any) {
	if len(userIDs) == 0 {
		return
	}
	rooms := make([]socket.Room, 0, len(userIDs))
	for _, id := range userIDs {
		rooms = append(rooms, UserRoom(id))
	}
	s.io.To(rooms...).Emit(event, payload)
}

func (s *Server) Broadcast(event string, payload any) {
	s.io.Emit(event, payload)
}

func (s *Server) Close() {
	s.io.Close(nil)
}
