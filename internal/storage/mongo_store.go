package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/archwes/ZeroGuard-sub001/internal/crypto"
)

// MongoStore keeps accounts and envelopes in two collections. Rotation
// commit runs inside a single transaction so readers never observe a
// half-rotated account.
type MongoStore struct {
	client    *mongo.Client
	accounts  *mongo.Collection
	envelopes *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}

	db := cli.Database(dbName)
	s := &MongoStore{
		client:    cli,
		accounts:  db.Collection("accounts"),
		envelopes: db.Collection("envelopes"),
	}
	_, _ = s.envelopes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "identity", Value: 1}, {Key: "_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return s, nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type mongoAccount struct {
	Identity string `bson:"_id"`
	Salt     []byte `bson:"salt"`
	Verifier []byte `bson:"verifier"`
	KDFM     uint32 `bson:"kdf_m"`
	KDFT     uint32 `bson:"kdf_t"`
	KDFP     uint8  `bson:"kdf_p"`
}

type mongoEnvelope struct {
	ID         string `bson:"_id"`
	Identity   string `bson:"identity"`
	Kind       string `bson:"kind"`
	Data       []byte `bson:"data"`
	WrappedKey []byte `bson:"wrapped_key"`
	Created    int64  `bson:"created"`
	Updated    int64  `bson:"updated"`
	Version    int    `bson:"version"`
}

func (m *MongoStore) PutAccount(ctx context.Context, a Account) error {
	doc := mongoAccount{
		Identity: a.Identity,
		Salt:     a.Salt,
		Verifier: a.Verifier,
		KDFM:     a.KDF.M,
		KDFT:     a.KDF.T,
		KDFP:     a.KDF.P,
	}
	_, err := m.accounts.UpdateByID(ctx, a.Identity,
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoStore) GetAccount(ctx context.Context, identity string) (Account, error) {
	var doc mongoAccount
	err := m.accounts.FindOne(ctx, bson.M{"_id": identity}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return Account{
		Identity: doc.Identity,
		Salt:     doc.Salt,
		Verifier: doc.Verifier,
		KDF:      crypto.KDFParams{M: doc.KDFM, T: doc.KDFT, P: doc.KDFP},
	}, nil
}

func (m *MongoStore) PutEnvelope(ctx context.Context, identity string, rec EnvelopeRecord) error {
	doc := mongoEnvelope{
		ID:         rec.ID,
		Identity:   identity,
		Kind:       rec.Kind,
		Data:       rec.Data,
		WrappedKey: rec.WrappedKey,
		Created:    rec.Created,
		Updated:    rec.Updated,
		Version:    rec.Version,
	}
	_, err := m.envelopes.UpdateByID(ctx, rec.ID,
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoStore) GetEnvelope(ctx context.Context, identity, id string) (EnvelopeRecord, error) {
	var doc mongoEnvelope
	err := m.envelopes.FindOne(ctx, bson.M{"_id": id, "identity": identity}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return EnvelopeRecord{}, ErrNotFound
	}
	if err != nil {
		return EnvelopeRecord{}, err
	}
	return recordFromMongo(doc), nil
}

func (m *MongoStore) DeleteEnvelope(ctx context.Context, identity, id string) error {
	res, err := m.envelopes.DeleteOne(ctx, bson.M{"_id": id, "identity": identity})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoStore) ListEnvelopes(ctx context.Context, identity string) ([]EnvelopeRecord, error) {
	cur, err := m.envelopes.Find(ctx, bson.M{"identity": identity})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []EnvelopeRecord
	for cur.Next(ctx) {
		var doc mongoEnvelope
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, recordFromMongo(doc))
	}
	return out, cur.Err()
}

func (m *MongoStore) CommitRotation(ctx context.Context, acct Account, wraps []Rewrap) error {
	sess, err := m.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		covered := make(map[string]struct{}, len(wraps))
		models := make([]mongo.WriteModel, 0, len(wraps))
		for _, w := range wraps {
			if _, dup := covered[w.ID]; dup {
				continue
			}
			covered[w.ID] = struct{}{}
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": w.ID, "identity": acct.Identity}).
				SetUpdate(bson.M{"$set": bson.M{"wrapped_key": w.WrappedKey}}))
		}
		stored, err := m.envelopes.CountDocuments(sc, bson.M{"identity": acct.Identity})
		if err != nil {
			return nil, err
		}
		if stored > int64(len(models)) {
			return nil, ErrIncompleteRotation
		}
		if len(models) > 0 {
			res, err := m.envelopes.BulkWrite(sc, models)
			if err != nil {
				return nil, err
			}
			if res.MatchedCount != int64(len(models)) {
				return nil, ErrNotFound
			}
		}
		if err := m.PutAccount(sc, acct); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

func recordFromMongo(doc mongoEnvelope) EnvelopeRecord {
	return EnvelopeRecord{
		ID:         doc.ID,
		Kind:       doc.Kind,
		Data:       doc.Data,
		WrappedKey: doc.WrappedKey,
		Created:    doc.Created,
		Updated:    doc.Updated,
		Version:    doc.Version,
	}
}
