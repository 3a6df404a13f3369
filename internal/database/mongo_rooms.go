package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/codeduel/internal/models"
	"github.com/jason-s-yu/codeduel/internal/room"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RoomsCollection holds one document per GameRoom, keyed by room code.
const RoomsCollection = "game_rooms"

// MongoConfig holds the MongoDB connection settings.
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	PingTimeout    time.Duration
	MaxPoolSize    uint64
}

func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "codeduel",
		ConnectTimeout: 10 * time.Second,
		PingTimeout:    5 * time.Second,
		MaxPoolSize:    100,
	}
}

// MongoDB wraps a connected client and its database.
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
	config   *MongoConfig
}

func NewMongoDB(ctx context.Context, config *MongoConfig) (*MongoDB, error) {
	if config == nil {
		config = DefaultMongoConfig()
	}

	clientOptions := options.Client().
		ApplyURI(config.URI).
		SetConnectTimeout(config.ConnectTimeout).
		SetMaxPoolSize(config.MaxPoolSize)

	connectCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, config.PingTimeout)
	defer pingCancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoDB{
		client:   client,
		database: client.Database(config.Database),
		config:   config,
	}, nil
}

func (m *MongoDB) GetCollection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// CreateIndexes backs the per-user active-room lookup and the status sweep.
func (m *MongoDB) CreateIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "players.userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
	}
	if _, err := m.GetCollection(RoomsCollection).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create room indexes: %w", err)
	}
	return nil
}

func (m *MongoDB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.PingTimeout)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	return nil
}

// MongoRooms is a room.Registry over a MongoDB collection. Save is a ReplaceOne filtered
// on the expected version.
type MongoRooms struct {
	coll *mongo.Collection
}

func NewMongoRooms(m *MongoDB) *MongoRooms {
	return &MongoRooms{coll: m.GetCollection(RoomsCollection)}
}

func (s *MongoRooms) Create(ctx context.Context, r *models.GameRoom) error {
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt, r.Version = now, now, 1
	if _, err := s.coll.InsertOne(ctx, r); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return room.ErrExists
		}
		return fmt.Errorf("inserting room %s: %w", r.RoomID, err)
	}
	return nil
}

func (s *MongoRooms) Get(ctx context.Context, roomID string) (*models.GameRoom, error) {
	var r models.GameRoom
	err := s.coll.FindOne(ctx, bson.M{"_id": roomID}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, room.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading room %s: %w", roomID, err)
	}
	return &r, nil
}

func (s *MongoRooms) Save(ctx context.Context, r *models.GameRoom) error {
	prevVersion, prevUpdated := r.Version, r.UpdatedAt
	r.Version++
	r.UpdatedAt = time.Now().UTC()

	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": r.RoomID, "version": prevVersion}, r)
	if err == nil && res.MatchedCount == 1 {
		return nil
	}
	r.Version, r.UpdatedAt = prevVersion, prevUpdated
	if err != nil {
		return fmt.Errorf("updating room %s: %w", r.RoomID, err)
	}

	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": r.RoomID})
	if err != nil {
		return fmt.Errorf("updating room %s: %w", r.RoomID, err)
	}
	if n == 0 {
		return room.ErrNotFound
	}
	return room.ErrVersionConflict
}

func (s *MongoRooms) Delete(ctx context.Context, roomID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": roomID})
	if err != nil {
		return fmt.Errorf("deleting room %s: %w", roomID, err)
	}
	if res.DeletedCount == 0 {
		return room.ErrNotFound
	}
	return nil
}

func (s *MongoRooms) FindActiveByUser(ctx context.Context, userID string) (*models.GameRoom, error) {
	filter := bson.M{
		"players.userId": userID,
		"status":         bson.M{"$in": bson.A{models.RoomWaiting, models.RoomInProgress}},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	var r models.GameRoom
	err := s.coll.FindOne(ctx, filter, opts).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, room.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding room for %s: %w", userID, err)
	}
	return &r, nil
}

func (s *MongoRooms) ListByStatus(ctx context.Context, status models.RoomStatus) ([]*models.GameRoom, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.M{"status": status}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing %s rooms: %w", status, err)
	}
	defer cursor.Close(ctx)

	var out []*models.GameRoom
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("listing %s rooms: %w", status, err)
	}
	return out, nil
}
