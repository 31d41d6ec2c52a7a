package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/otpgate/apiserver/types"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// notActivity matches documents that are not activity records.
var notActivity = bson.E{Key: "type", Value: bson.D{{Key: "$exists", Value: false}}}

// MongoUserRepository handles persistence for users in a MongoDB collection.
type MongoUserRepository struct {
	coll *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database, collection string) *MongoUserRepository {
	return &MongoUserRepository{coll: db.Collection(collection)}
}

// EnsureIndexes creates the unique email index. Activity documents are
// excluded by the partial filter since they carry an email too.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "email", Value: 1}},
		Options: options.Index().
			SetName("users_email_unique").
			SetUnique(true).
			SetPartialFilterExpression(bson.D{{Key: "isVerified", Value: bson.D{{Key: "$exists", Value: true}}}}),
	})
	return err
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}, notActivity})
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return r.findOne(ctx, bson.D{{Key: "email", Value: email}, notActivity})
}

func (r *MongoUserRepository) ListByRole(ctx context.Context, role types.Role) ([]types.User, error) {
	return r.find(ctx, bson.D{{Key: "role", Value: string(role)}, notActivity})
}

func (r *MongoUserRepository) List(ctx context.Context) ([]types.User, error) {
	return r.find(ctx, bson.D{notActivity})
}

func (r *MongoUserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	user.ID = bson.NewObjectID().Hex()
	if _, err := r.coll.InsertOne(ctx, newUserDocument(user)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *MongoUserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	doc := newUserDocument(user)
	set := bson.D{
		{Key: "email", Value: doc.Email},
		{Key: "isVerified", Value: doc.IsVerified},
		{Key: "updatedAt", Value: doc.UpdatedAt},
	}
	if doc.Password != "" {
		set = append(set, bson.E{Key: "password", Value: doc.Password})
	}
	if doc.Role != "" {
		set = append(set, bson.E{Key: "role", Value: doc.Role})
	}
	if doc.LastLoginAt != nil {
		set = append(set, bson.E{Key: "lastLoginAt", Value: *doc.LastLoginAt})
	}

	result, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: user.ID}, notActivity},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, fmt.Errorf("update user: %w", err)
	}
	if result.MatchedCount == 0 {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MongoUserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}, notActivity})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.D) (types.User, error) {
	var doc userDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, fmt.Errorf("find user: %w", err)
	}
	return doc.toUser(), nil
}

func (r *MongoUserRepository) find(ctx context.Context, filter bson.D) ([]types.User, error) {
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	users := make([]types.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, doc.toUser())
	}
	return users, nil
}

// MongoActivityRepository stores activity records under their deterministic ids.
type MongoActivityRepository struct {
	coll *mongo.Collection
}

func NewMongoActivityRepository(db *mongo.Database, collection string) *MongoActivityRepository {
	return &MongoActivityRepository{coll: db.Collection(collection)}
}

// EnsureIndexes creates the index backing the sequence number lookup.
func (r *MongoActivityRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "type", Value: 1},
			{Key: "username", Value: 1},
			{Key: "sequenceNumber", Value: -1},
		},
		Options: options.Index().SetName("activity_type_username_seq"),
	})
	return err
}

func (r *MongoActivityRepository) Upsert(ctx context.Context, record types.ActivityRecord) error {
	_, err := r.coll.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: record.DocumentID}},
		newActivityDocument(record),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert activity: %w", err)
	}
	return nil
}

func (r *MongoActivityRepository) Insert(ctx context.Context, record types.ActivityRecord) error {
	if _, err := r.coll.InsertOne(ctx, newActivityDocument(record)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (r *MongoActivityRepository) MaxSequence(ctx context.Context, activityType types.ActivityType, username string) (int64, error) {
	filter := bson.D{
		{Key: "type", Value: string(activityType)},
		{Key: "username", Value: username},
	}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "sequenceNumber", Value: -1}}).
		SetProjection(bson.D{{Key: "sequenceNumber", Value: 1}})

	var doc activityDocument
	if err := r.coll.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan activity sequence: %w", err)
	}
	if doc.SequenceNumber == nil {
		return 0, nil
	}
	return *doc.SequenceNumber, nil
}

func (r *MongoActivityRepository) List(ctx context.Context) ([]types.ActivityRecord, error) {
	filter := bson.D{{Key: "type", Value: bson.D{{Key: "$in", Value: activityTypes}}}}
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find activity: %w", err)
	}
	var docs []activityDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}
	records := make([]types.ActivityRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, doc.toRecord())
	}
	return records, nil
}

// MongoPinger reports document store health.
type MongoPinger struct {
	client *mongo.Client
}

func NewMongoPinger(client *mongo.Client) *MongoPinger {
	return &MongoPinger{client: client}
}

func (p *MongoPinger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.client.Ping(ctx, nil)
}
