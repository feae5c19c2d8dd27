package router

import (
	"context"
	"time"

	"uplink-service/presence"
	"uplink-service/socketio"
	"uplink-service/utils"

	"github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

// Socket wires presence and typing onto every authenticated connection.
func Socket(server *socketio.Server, tracker *presence.Tracker, typingRate float64, log *zap.Logger) {
	log = log.Named("socket")

	server.OnConnection(func(client *socket.Socket, claims *utils.TokenMetadata) {
		userID := claims.Id
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tracker.Connect(ctx, userID); err != nil {
			log.Warn("presence connect", zap.String("user_id", userID), zap.Error(err))
		}
		if snap, err := tracker.Snapshot(ctx); err == nil {
			client.Emit(presence.EventSync, snap)
		}

		gate := presence.NewTypingGate(typingRate)
		client.On(presence.EventTyping, func(args ...any) {
			tracker.Typing(gate, userID, typingConversation(args))
		})

		client.On("disconnect", func(...any) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracker.Disconnect(ctx, userID); err != nil {
				log.Warn("presence disconnect", zap.String("user_id", userID), zap.Error(err))
			}
		})
	})
}

// typingConversation accepts either a bare conversation id or an object
// carrying conversation_id.
func typingConversation(args []any) string {
	if len(args) == 0 {
		return ""
	}
	switch v := args[0].(type) {
	case string:
		return v
	case map[string]any:
		id, _ := v["conversation_id"].(string)
		return id
	}
	return ""
}
