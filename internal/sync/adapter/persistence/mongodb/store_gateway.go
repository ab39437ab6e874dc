package mongodb

import (
	"context"
	"time"

	"github.com/ahmadnk31/gsm-sync/internal/shared/errors"
	"github.com/ahmadnk31/gsm-sync/internal/shared/logger"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// StoreGateway implements the data-store boundary on MongoDB. Collection names
// match the tracked entity kinds one to one.
type StoreGateway struct {
	db     *mongo.Database
	logger logger.Logger
}

// NewStoreGateway creates a MongoDB-backed store gateway.
func NewStoreGateway(db *mongo.Database, log logger.Logger) *StoreGateway {
	return &StoreGateway{
		db:     db,
		logger: log.WithComponent("store-gateway"),
	}
}

func (s *StoreGateway) collection(kind model.EntityKind) *mongo.Collection {
	return s.db.Collection(string(kind))
}

// FetchAll performs the full resync read for one entity kind. Scoping happens
// server-side: a standard viewer only ever receives rows they own; an admin
// read is unscoped and the owned projection is derived by the reconciler.
func (s *StoreGateway) FetchAll(ctx context.Context, kind model.EntityKind, scope model.ViewScope) ([]model.TrackedEntity, error) {
	if !kind.IsValid() {
		return nil, errors.ErrUnknownEntityKind
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	filter := bson.M{}
	if !scope.IsAdmin() {
		filter["owner_id"] = scope.ViewerID
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.collection(kind).Find(ctx, filter, opts)
	if err != nil {
		s.logger.Error("Full fetch failed",
			zap.String("entityKind", string(kind)),
			zap.Error(err))
		return nil, errors.NewResyncError("full fetch failed").WithCause(err).
			WithDetail("entity_kind", string(kind))
	}
	defer cursor.Close(ctx)

	entities, err := decodeAll(ctx, kind, cursor)
	if err != nil {
		return nil, errors.NewResyncError("full fetch decode failed").WithCause(err).
			WithDetail("entity_kind", string(kind))
	}

	s.logger.Debug("Full fetch complete",
		zap.String("entityKind", string(kind)),
		zap.Int("rows", len(entities)))

	return entities, nil
}

// Mutate applies a patch to one row and returns the updated row. The caller
// treats the result as an authoritative Update event. owner_id is write-once
// and may never appear in a patch.
func (s *StoreGateway) Mutate(ctx context.Context, kind model.EntityKind, id string, patch map[string]interface{}) (model.TrackedEntity, error) {
	if !kind.IsValid() {
		return nil, errors.ErrUnknownEntityKind
	}
	if id == "" {
		return nil, errors.NewValidationError("entity id is required")
	}
	if _, forbidden := patch["owner_id"]; forbidden {
		return nil, errors.NewValidationError("owner_id is write-once").WithCause(errors.ErrImmutableOwner)
	}

	set := bson.M{"updated_at": time.Now()}
	for k, v := range patch {
		set[k] = v
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	result := s.collection(kind).FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts)

	entity, err := decodeOne(kind, result)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errors.NewNotFoundError("entity").WithDetail("entity_id", id)
		}
		s.logger.Error("Mutation failed",
			zap.String("entityKind", string(kind)),
			zap.String("entityID", id),
			zap.Error(err))
		return nil, errors.NewMutationRejectedError("mutation failed").WithCause(err).
			WithDetail("entity_id", id)
	}

	return entity, nil
}

// BulkMarkRead marks every unread message in a conversation as read, excluding
// messages the viewer sent. A viewer never marks their own messages.
func (s *StoreGateway) BulkMarkRead(ctx context.Context, conversationID, excludeSenderID string) (int64, error) {
	if conversationID == "" {
		return 0, errors.NewValidationError("conversation id is required")
	}

	filter := bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": excludeSenderID},
		"is_read":         false,
	}
	update := bson.M{"$set": bson.M{"is_read": true}}

	res, err := s.collection(model.KindChatMessage).UpdateMany(ctx, filter, update)
	if err != nil {
		s.logger.Error("Bulk mark-read failed",
			zap.String("conversationID", conversationID),
			zap.Error(err))
		return 0, errors.NewMutationRejectedError("bulk mark-read failed").WithCause(err).
			WithDetail("conversation_id", conversationID)
	}

	return res.ModifiedCount, nil
}

// decodeAll drains a cursor into the concrete slice for the kind.
func decodeAll(ctx context.Context, kind model.EntityKind, cursor *mongo.Cursor) ([]model.TrackedEntity, error) {
	switch kind {
	case model.KindBooking:
		var rows []*model.Booking
		if err := cursor.All(ctx, &rows); err != nil {
			return nil, err
		}
		out := make([]model.TrackedEntity, len(rows))
		for i, r := range rows {
			out[i] = r
		}
		return out, nil

	case model.KindChatMessage:
		var rows []*model.ChatMessage
		if err := cursor.All(ctx, &rows); err != nil {
			return nil, err
		}
		out := make([]model.TrackedEntity, len(rows))
		for i, r := range rows {
			out[i] = r
		}
		return out, nil

	case model.KindQuoteRequest:
		var rows []*model.QuoteRequest
		if err := cursor.All(ctx, &rows); err != nil {
			return nil, err
		}
		out := make([]model.TrackedEntity, len(rows))
		for i, r := range rows {
			out[i] = r
		}
		return out, nil
	}
	return nil, errors.ErrUnknownEntityKind
}

// decodeOne decodes a single result into the concrete type for the kind.
func decodeOne(kind model.EntityKind, result *mongo.SingleResult) (model.TrackedEntity, error) {
	switch kind {
	case model.KindBooking:
		var row model.Booking
		if err := result.Decode(&row); err != nil {
			return nil, err
		}
		return &row, nil

	case model.KindChatMessage:
		var row model.ChatMessage
		if err := result.Decode(&row); err != nil {
			return nil, err
		}
		return &row, nil

	case model.KindQuoteRequest:
		var row model.QuoteRequest
		if err := result.Decode(&row); err != nil {
			return nil, err
		}
		return &row, nil
	}
	return nil, errors.ErrUnknownEntityKind
}
