package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/homemarket/negotiation-engine/internal/domain/negotiation"
)

const (
	CollectionNotifications = "notifications"
	CollectionHistory       = "negotiation_history"

	writeTimeout = 5 * time.Second
)

// Connect opens a client and verifies the server is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

type inserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// NotificationDoc is the in-app notification shown to the counterparty.
type NotificationDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	UserID    string             `bson:"user_id"`
	Title     string             `bson:"title"`
	Message   string             `bson:"message"`
	Type      string             `bson:"type"`
	RelatedID string             `bson:"related_id"`
	EventID   string             `bson:"event_id"`
	IsRead    bool               `bson:"is_read"`
	CreatedAt time.Time          `bson:"created_at"`
}

// HistoryDoc records one status change for reporting.
type HistoryDoc struct {
	ID            primitive.ObjectID `bson:"_id"`
	NegotiationID string             `bson:"negotiation_id"`
	PropertyID    string             `bson:"property_id"`
	Event         string             `bson:"event"`
	Status        string             `bson:"status"`
	Actor         string             `bson:"actor"`
	ActorRole     string             `bson:"actor_role"`
	Amount        int64              `bson:"amount"`
	Version       int64              `bson:"version"`
	OccurredAt    time.Time          `bson:"occurred_at"`
}

// NotificationSink implements negotiation.Publisher by writing notification
// and history documents.
type NotificationSink struct {
	notifications inserter
	history       inserter
}

func NewNotificationSink(db *mongo.Database) *NotificationSink {
	return &NotificationSink{
		notifications: db.Collection(CollectionNotifications),
		history:       db.Collection(CollectionHistory),
	}
}

func (s *NotificationSink) Publish(ctx context.Context, event negotiation.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if _, err := s.history.InsertOne(ctx, BuildHistory(event)); err != nil {
		return fmt.Errorf("failed to insert negotiation history to Mongo: %w", err)
	}
	if _, err := s.notifications.InsertOne(ctx, BuildNotification(event)); err != nil {
		return fmt.Errorf("failed to insert notification to Mongo: %w", err)
	}
	return nil
}

func BuildHistory(event negotiation.Event) HistoryDoc {
	return HistoryDoc{
		ID:            primitive.NewObjectID(),
		NegotiationID: event.NegotiationID.String(),
		PropertyID:    event.PropertyID,
		Event:         string(event.Type),
		Status:        string(event.Status),
		Actor:         event.Actor,
		ActorRole:     string(event.ActorRole),
		Amount:        event.Amount,
		Version:       event.Version,
		OccurredAt:    event.OccurredAt,
	}
}

// BuildNotification addresses the event to the party who did not act.
func BuildNotification(event negotiation.Event) NotificationDoc {
	var title, message string
	switch event.Type {
	case negotiation.EventOfferSubmitted:
		title = "New offer received"
		message = fmt.Sprintf("A buyer offered %d for property %s.", event.Amount, event.PropertyID)
	case negotiation.EventOfferCountered:
		title = "Counter-offer received"
		message = fmt.Sprintf("The %s countered with %d for property %s.", event.ActorRole, event.Amount, event.PropertyID)
	case negotiation.EventOfferAccepted:
		title = "Offer accepted"
		message = fmt.Sprintf("The %s accepted %d for property %s.", event.ActorRole, event.Amount, event.PropertyID)
	case negotiation.EventOfferRejected:
		title = "Offer rejected"
		message = fmt.Sprintf("The %s rejected the offer of %d for property %s.", event.ActorRole, event.Amount, event.PropertyID)
	case negotiation.EventOfferCancelled:
		title = "Offer withdrawn"
		message = fmt.Sprintf("The %s withdrew the offer of %d for property %s.", event.ActorRole, event.Amount, event.PropertyID)
	default:
		title = "Negotiation updated"
		message = fmt.Sprintf("Negotiation on property %s changed.", event.PropertyID)
	}
	return NotificationDoc{
		ID:        primitive.NewObjectID(),
		UserID:    event.Recipient(),
		Title:     title,
		Message:   message,
		Type:      "offer",
		RelatedID: event.NegotiationID.String(),
		EventID:   event.EventID.String(),
		CreatedAt: event.OccurredAt,
	}
}
