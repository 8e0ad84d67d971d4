// Package mongo implements the interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/lnnode/lib/store"
	"github.com/tarancss/lnnode/lib/util"
)

// Database and collection names.
const (
	Database     = "lnnode"
	PeersCol     = "peers"
	PaymentsCol  = "payments"
	PreimagesCol = "preimages"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// MongoPeer implements a channel peer in MongoDB.
type MongoPeer struct {
	Addr  string    `bson:"address"`
	Added time.Time `bson:"added"`
}

// MongoPreimage implements a hold invoice preimage in MongoDB.
type MongoPreimage struct {
	Preimage string    `bson:"preimage"`
	Added    time.Time `bson:"added"`
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// AddChannelPeer saves a peer address if the address does not already exist.
func (m *Mongo) AddChannelPeer(peer string) error {
	if !util.SingleLine(peer) {
		return store.ErrInvalidPeer
	}

	col := m.c.Database(Database).Collection(PeersCol)

	// try and find it
	var mp MongoPeer

	err := col.FindOne(context.Background(), bson.M{"address": peer}).Decode(&mp)
	if errors.Is(err, mgo.ErrNoDocuments) { // if not found, do insert it!!
		if _, err = col.InsertOne(context.Background(), MongoPeer{Addr: peer, Added: time.Now()}); err != nil {
			return fmt.Errorf("could not insert peer in db: %w", err)
		}

		return nil
	}

	if err != nil {
		return fmt.Errorf("could not insert peer in db: %w", err)
	}

	log.Printf("[mongo] Peer was already saved:%+v\n", mp)

	return nil
}

// GetChannelPeers returns the peer addresses saved, oldest first.
func (m *Mongo) GetChannelPeers() ([]string, error) {
	docs, err := m.c.Database(Database).Collection(PeersCol).Find(context.Background(), bson.M{},
		options.Find().SetSort(bson.D{{Key: "added", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error getting peers: %w", err)
	}
	defer docs.Close(context.Background())

	peers := []string{}

	for docs.Next(context.Background()) {
		var mp MongoPeer
		if err = bson.Unmarshal(docs.Current, &mp); err == nil {
			peers = append(peers, mp.Addr)
		}
	}

	return peers, docs.Err()
}

// SavePayment upserts the payment identified by its direction and hash.
func (m *Mongo) SavePayment(p store.Payment) (err error) {
	_, err = m.c.Database(Database).Collection(PaymentsCol).UpdateOne(context.Background(),
		bson.D{{Key: "direction", Value: p.Direction}, {Key: "hash", Value: p.Hash}}, // filter
		bson.D{{Key: "$set", Value: p}}, // update
		options.Update().SetUpsert(true))

	return
}

// GetPayments returns every payment saved.
func (m *Mongo) GetPayments() ([]store.Payment, error) {
	docs, err := m.c.Database(Database).Collection(PaymentsCol).Find(context.Background(), bson.M{})
	if err != nil {
		return nil, fmt.Errorf("error getting payments: %w", err)
	}

	payments := []store.Payment{}
	if err = docs.All(context.Background(), &payments); err != nil {
		return nil, fmt.Errorf("error decoding payments: %w", err)
	}

	return payments, nil
}

// SavePreimage saves a hold invoice preimage unless it already exists.
func (m *Mongo) SavePreimage(preimage string) error {
	if !util.SingleLine(preimage) {
		return store.ErrInvalidPreimage
	}

	_, err := m.c.Database(Database).Collection(PreimagesCol).UpdateOne(context.Background(),
		bson.M{"preimage": preimage}, // filter
		bson.D{{Key: "$setOnInsert", Value: MongoPreimage{Preimage: preimage, Added: time.Now()}}}, // update
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not insert preimage in db: %w", err)
	}

	return nil
}

// GetPreimages returns the preimages saved, oldest first.
func (m *Mongo) GetPreimages() ([]string, error) {
	docs, err := m.c.Database(Database).Collection(PreimagesCol).Find(context.Background(), bson.M{},
		options.Find().SetSort(bson.D{{Key: "added", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error getting preimages: %w", err)
	}

	var found []MongoPreimage
	if err = docs.All(context.Background(), &found); err != nil {
		return nil, fmt.Errorf("error decoding preimages: %w", err)
	}

	preimages := make([]string, 0, len(found))
	for _, mp := range found {
		preimages = append(preimages, mp.Preimage)
	}

	return preimages, nil
}

// DropAll deletes every collection of the node database.
func (m *Mongo) DropAll() error {
	return m.c.Database(Database).Drop(context.Background())
}
