package chatlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vozconnect/pkg/errors"
	"vozconnect/pkg/logger"
	"vozconnect/pkg/resilience"
)

// System messages are capped per room; older call-log entries roll off.
const historyLimit = 500

// SystemMessage is a call-log entry appended to a room's chat history and
// fanned out to live subscribers.
type SystemMessage struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	Type      string    `json:"type"` // always "system"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service writes call-log system messages into the chat store. Regular user
// messages flow through the chat service; this only appends system entries.
type Service struct {
	client *redis.Client
	guard  *resilience.RedisResilience
	log    *zap.Logger
}

// NewService creates a chat-log service on an existing Redis client.
func NewService(client *redis.Client) *Service {
	return &Service{
		client: client,
		guard:  resilience.NewRedisResilience(),
		log:    logger.With(zap.String("component", "chatlog")),
	}
}

func historyKey(roomID string) string {
	return fmt.Sprintf("chat:history:%s", roomID)
}

func channel(roomID string) string {
	return fmt.Sprintf("chat:%s", roomID)
}

// AppendSystemMessage stores a system message in the room's history and
// publishes it for real-time delivery. Publish failures do not fail the
// append; subscribers catch up from history.
func (s *Service) AppendSystemMessage(ctx context.Context, roomID, text string) error {
	if roomID == "" {
		return errors.InvalidInputError("roomId is required")
	}
	if text == "" {
		return errors.InvalidInputError("message text is required")
	}

	msg := &SystemMessage{
		MessageID: uuid.NewString(),
		RoomID:    roomID,
		Type:      "system",
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "failed to marshal system message", err)
	}

	key := historyKey(roomID)
	appendErr := s.guard.Execute(ctx, "append_system_message", func() error {
		pipe := s.client.TxPipeline()
		pipe.RPush(ctx, key, payload)
		pipe.LTrim(ctx, key, -historyLimit, -1)
		_, err := pipe.Exec(ctx)
		return err
	})
	if appendErr != nil {
		return errors.Wrap(errors.ErrCodeInternal, "failed to append system message", appendErr)
	}

	if err := s.client.Publish(ctx, channel(roomID), payload).Err(); err != nil {
		s.log.Warn("failed to publish system message",
			zap.String("room_id", roomID),
			zap.Error(err))
	}

	return nil
}

// History returns the most recent system and chat messages for a room,
// oldest first, up to limit.
func (s *Service) History(ctx context.Context, roomID string, limit int) ([]*SystemMessage, error) {
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}

	raw, err := s.client.LRange(ctx, historyKey(roomID), int64(-limit), -1).Result()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to read chat history", err)
	}

	messages := make([]*SystemMessage, 0, len(raw))
	for _, item := range raw {
		var msg SystemMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			s.log.Warn("skipping malformed history entry", zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}
