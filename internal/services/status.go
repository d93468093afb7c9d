package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"reelflow-backend/internal/models"
)

const MessageTypeVideoStatus = "video_status"

// UserChannel is the pub/sub channel the websocket hub relays to a user.
func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user_updates:%s", userID.String())
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// StatusPublisher pushes video status changes to connected clients.
type StatusPublisher struct {
	redis redisPublisher
}

func NewStatusPublisher(rdb redisPublisher) *StatusPublisher {
	return &StatusPublisher{redis: rdb}
}

// VideoChanged is best effort; failures are logged and dropped.
func (p *StatusPublisher) VideoChanged(ctx context.Context, v *models.Video) {
	data, err := json.Marshal(models.WSMessage{
		Type: MessageTypeVideoStatus,
		Payload: models.VideoStatusEvent{
			VideoID: v.ID,
			Stage:   v.Stage,
			Status:  v.Status,
			Error:   v.ErrorMsg,
		},
	})
	if err != nil {
		return
	}
	if err := p.redis.Publish(ctx, UserChannel(v.OwnerID), string(data)).Err(); err != nil {
		log.Warn().Err(err).Str("video_id", v.ID.String()).Msg("Failed to publish status update")
	}
}
