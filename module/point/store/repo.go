package store

import (
	"context"
	"errors"
	"time"

	"PPost/logger"
	"PPost/module/point/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const CollectionPoints = "points"

// DBSource hands out the current database; service/mgo.MongoManager swaps
// the client underneath on reconnect.
type DBSource interface {
	DB() (*mongo.Database, error)
}

// MongoStore keeps points in one collection keyed by id. Guards and the
// "unless voted by" condition are part of the update filter, so every write
// is a single atomic document update.
type MongoStore struct {
	src DBSource
	log *zap.Logger
}

func NewMongoStore(src DBSource, log *zap.Logger) *MongoStore {
	return &MongoStore{src: src, log: logger.OrNamed(log, "mongo")}
}

func (r *MongoStore) coll() (*mongo.Collection, error) {
	db, err := r.src.DB()
	if err != nil {
		return nil, err
	}
	return db.Collection(CollectionPoints), nil
}

// EnsureIndexes creates the checkAt index the sweep query runs on.
func (r *MongoStore) EnsureIndexes(ctx context.Context) error {
	coll, err := r.coll()
	if err != nil {
		return err
	}
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "checkAt", Value: 1}}, Options: options.Index().SetName("checkAt_1")},
		{Keys: bson.D{{Key: "createdAt", Value: 1}}, Options: options.Index().SetName("createdAt_1")},
	})
	return err
}

func (r *MongoStore) Insert(ctx context.Context, p *model.Point) error {
	if p.Votes == nil {
		p.Votes = []model.Vote{}
	}
	coll, err := r.coll()
	if err != nil {
		return err
	}
	_, err = coll.InsertOne(ctx, p)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateID
	}
	return err
}

func (r *MongoStore) FindByID(ctx context.Context, id string) (*model.Point, error) {
	coll, err := r.coll()
	if err != nil {
		return nil, err
	}
	var p model.Point
	err = coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *MongoStore) FindAll(ctx context.Context) ([]model.Point, error) {
	return r.find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
}

func (r *MongoStore) FindDueForSweep(ctx context.Context, now time.Time) ([]model.Point, error) {
	return r.find(ctx, bson.M{"checkAt": bson.M{"$lte": now}}, options.Find().SetSort(bson.D{{Key: "checkAt", Value: 1}}))
}

func (r *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]model.Point, error) {
	coll, err := r.coll()
	if err != nil {
		return nil, err
	}
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make([]model.Point, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func guardFilter(id string, g *Guard) bson.M {
	f := bson.M{"_id": id}
	if g != nil {
		f["status"] = g.Status
		f["checkAt"] = g.CheckAt
	}
	return f
}

func (r *MongoStore) Update(ctx context.Context, id string, p Patch) (bool, error) {
	filter := guardFilter(id, p.If)
	if p.UnlessVotedBy != "" {
		filter["votes.by"] = bson.M{"$ne": p.UnlessVotedBy}
	}
	set := bson.M{}
	if p.Status != "" {
		set["status"] = p.Status
	}
	if !p.CheckAt.IsZero() {
		set["checkAt"] = p.CheckAt
	}
	if p.VotedAt != nil {
		set["votedAt"] = *p.VotedAt
	}
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if p.Vote != nil {
		update["$push"] = bson.M{"votes": p.Vote}
	}
	if len(update) == 0 {
		return false, errors.New("empty patch")
	}
	coll, err := r.coll()
	if err != nil {
		return false, err
	}
	res, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (r *MongoStore) Remove(ctx context.Context, id string, g *Guard) (bool, error) {
	coll, err := r.coll()
	if err != nil {
		return false, err
	}
	res, err := coll.DeleteOne(ctx, guardFilter(id, g))
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}

type changeEvent struct {
	OperationType string       `bson:"operationType"`
	FullDocument  *model.Point `bson:"fullDocument"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

// Watch follows the collection change stream. Updates are delivered with the
// document as of the lookup; deletes carry only the id. The stream is reopened
// from its resume token when it fails.
func (r *MongoStore) Watch(ctx context.Context) (<-chan Change, error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{
		"operationType": bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}},
	}}}}
	coll, err := r.coll()
	if err != nil {
		return nil, err
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	cs, err := coll.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, err
	}

	out := make(chan Change, memFeedBuffer)
	go func() {
		defer close(out)
		for {
			r.drain(ctx, cs, out)
			token := cs.ResumeToken()
			_ = cs.Close(context.Background())
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("[mongo] change stream interrupted, resuming", zap.Error(cs.Err()))
			for {
				t := time.NewTimer(time.Second)
				select {
				case <-ctx.Done():
					t.Stop()
					return
				case <-t.C:
				}
				ro := options.ChangeStream().SetFullDocument(options.UpdateLookup)
				if token != nil {
					ro.SetResumeAfter(token)
				}
				var c *mongo.Collection
				if c, err = r.coll(); err == nil {
					if cs, err = c.Watch(ctx, pipeline, ro); err == nil {
						break
					}
				}
				r.log.Warn("[mongo] reopen change stream", zap.Error(err))
			}
		}
	}()
	return out, nil
}

func (r *MongoStore) drain(ctx context.Context, cs *mongo.ChangeStream, out chan<- Change) {
	for cs.Next(ctx) {
		var ev changeEvent
		if err := cs.Decode(&ev); err != nil {
			r.log.Warn("[mongo] decode change", zap.Error(err))
			continue
		}
		c, ok := toChange(&ev)
		if !ok {
			continue
		}
		select {
		case out <- c:
		case <-ctx.Done():
			return
		}
	}
}

func toChange(ev *changeEvent) (Change, bool) {
	switch ev.OperationType {
	case "insert":
		if ev.FullDocument == nil {
			return Change{}, false
		}
		return Change{Operation: OpInsert, Document: *ev.FullDocument}, true
	case "update", "replace":
		if ev.FullDocument == nil {
			// removed before the lookup ran; the delete event follows
			return Change{}, false
		}
		return Change{Operation: OpUpdate, Document: *ev.FullDocument}, true
	case "delete":
		return Change{Operation: OpDelete, Document: model.Point{ID: ev.DocumentKey.ID}}, true
	}
	return Change{}, false
}
