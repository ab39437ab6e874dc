package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ahmadnk31/gsm-sync/internal/shared/logger"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const journalKeyPrefix = "gsm-sync:feed:"

// RedisJournal implements the event journal on Redis Streams. Stream entry IDs
// double as resume tokens; replay from a token is at-least-once, which the
// idempotent reconciler absorbs.
//
// Streams are keyed per viewer. A viewer's feed is scoped by their JWT, so a
// shared stream would hand one viewer's journal the server-scoped events of
// another session writing to the same Redis.
type RedisJournal struct {
	client   *redis.Client
	viewerID string
	logger   logger.Logger
}

// NewRedisJournal creates a Redis-backed event journal for one viewer.
func NewRedisJournal(client *redis.Client, viewerID string, log logger.Logger) *RedisJournal {
	return &RedisJournal{
		client:   client,
		viewerID: viewerID,
		logger:   log.WithComponent("redis-journal"),
	}
}

func (r *RedisJournal) journalKey(kind model.EntityKind) string {
	return journalKeyPrefix + r.viewerID + ":" + string(kind)
}

// Append records one raw change and returns its journal position.
func (r *RedisJournal) Append(ctx context.Context, kind model.EntityKind, raw model.RawChange) (model.ResumeToken, error) {
	payload, err := json.Marshal(raw)
	if err != nil {
		r.logger.Error("Failed to serialize change payload", zap.Error(err))
		return "", err
	}

	stream := r.journalKey(kind)
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"kind":      raw.Kind,
			"entity":    raw.Entity,
			"id":        raw.ID,
			"payload":   payload,
			"timestamp": raw.Timestamp.UnixNano(),
		},
	}).Result()

	if err != nil {
		r.logger.Error("Failed to journal event",
			zap.String("stream", stream),
			zap.String("changeKind", raw.Kind),
			zap.Error(err))
		return "", err
	}

	return model.ResumeToken(id), nil
}

// ReadSince retrieves journaled events after a resume token. An empty token
// reads from the beginning of the retained window.
func (r *RedisJournal) ReadSince(ctx context.Context, kind model.EntityKind, token model.ResumeToken) ([]model.RawChange, error) {
	stream := r.journalKey(kind)
	lastID := "0"
	if token != "" {
		lastID = string(token)
	}

	exists, err := r.client.Exists(ctx, stream).Result()
	if err != nil {
		r.logger.Error("Failed to check journal existence",
			zap.String("stream", stream),
			zap.Error(err))
		return nil, err
	}
	if exists == 0 {
		return []model.RawChange{}, nil
	}

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.client.XRead(readCtx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   1000,
		Block:   0,
	}).Result()

	if err != nil {
		if err == redis.Nil || err == context.DeadlineExceeded {
			return []model.RawChange{}, nil
		}
		r.logger.Error("Failed to read journal",
			zap.String("stream", stream),
			zap.String("resumeToken", string(token)),
			zap.Error(err))
		return nil, err
	}

	var raws []model.RawChange
	for _, streamRes := range res {
		for _, msg := range streamRes.Messages {
			raw, err := parseJournalMessage(msg)
			if err != nil {
				r.logger.Warn("Failed to parse journal entry",
					zap.String("messageId", msg.ID),
					zap.Error(err))
				continue
			}
			raws = append(raws, raw)
		}
	}

	r.logger.Debug("Journal replay read",
		zap.String("stream", stream),
		zap.Int("eventCount", len(raws)))

	return raws, nil
}

// Trim bounds the journal to approximately maxLen entries.
func (r *RedisJournal) Trim(ctx context.Context, kind model.EntityKind, maxLen int64) error {
	if maxLen <= 0 {
		return nil
	}
	stream := r.journalKey(kind)
	if _, err := r.client.XTrimMaxLen(ctx, stream, maxLen).Result(); err != nil {
		r.logger.Warn("Failed to trim journal",
			zap.String("stream", stream),
			zap.Error(err))
		return err
	}
	return nil
}

// parseJournalMessage converts a stream message back into the raw payload.
func parseJournalMessage(msg redis.XMessage) (model.RawChange, error) {
	var raw model.RawChange
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return raw, fmt.Errorf("journal entry %s has no payload", msg.ID)
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return model.RawChange{}, err
	}
	return raw, nil
}
