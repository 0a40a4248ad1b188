package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/carebound/storefront/catalog"

	extErrors "github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"
	"go.uber.org/zap"
)

const (
	collSubscriptions     = "subscriptions"
	collCoupons           = "coupons"
	collUserSubscriptions = "user_subscriptions"
)

// MongoOptions provides initialization parameters for the Mongo-backed Store
type MongoOptions struct {
	Client   *mongo.Client
	Database string
	Logger   *zap.Logger
}

type mongoStore struct {
	MongoOptions
	db *mongo.Database
}

// Connect dials MongoDB and verifies the connection
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	mongoClient, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to MongoDB")
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		return nil, extErrors.Wrap(err, "Cannot ping MongoDB")
	}
	return mongoClient, nil
}

// NewMongoStore returns a Store backed by MongoDB. Purchase-record writes use
// majority write concern so a following read sees them.
func NewMongoStore(option MongoOptions) (Store, error) {
	if option.Client == nil {
		return nil, fmt.Errorf("nil Client is invalid")
	}
	if len(option.Database) == 0 {
		return nil, fmt.Errorf("empty Database is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &mongoStore{
		MongoOptions: option,
		db:           option.Client.Database(option.Database),
	}, nil
}

func (m *mongoStore) records() *mongo.Collection {
	return m.db.Collection(collUserSubscriptions,
		options.Collection().SetWriteConcern(writeconcern.Majority()),
	)
}

func (m *mongoStore) GetSubscription(ctx context.Context, id string) (*catalog.Subscription, error) {
	var sub catalog.Subscription
	err := m.db.Collection(collSubscriptions).
		FindOne(ctx, bson.M{"_id": id}).
		Decode(&sub)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		m.Logger.Error("Content store returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot fetch subscription from content store")
	}
	return &sub, nil
}

func (m *mongoStore) GetCouponByCode(ctx context.Context, code string) (*catalog.Coupon, error) {
	var c catalog.Coupon
	err := m.db.Collection(collCoupons).
		FindOne(ctx, bson.M{"code": code, "isActive": true}).
		Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		m.Logger.Error("Content store returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot fetch coupon from content store")
	}
	return &c, nil
}

func (m *mongoStore) SetStripeProductID(ctx context.Context, subscriptionID, productID string) error {
	_, err := m.db.Collection(collSubscriptions).UpdateOne(ctx,
		bson.M{"_id": subscriptionID},
		bson.M{"$set": bson.M{"stripeProductId": productID}},
	)
	if err != nil {
		return extErrors.Wrap(err, "Cannot cache product id on subscription")
	}
	return nil
}

func (m *mongoStore) SetStripePriceID(ctx context.Context, subscriptionID, variantKey, priceID string) error {
	filter := bson.M{"_id": subscriptionID}
	update := bson.M{"$set": bson.M{"stripePriceId": priceID}}
	if len(variantKey) > 0 {
		filter["variants.key"] = variantKey
		update = bson.M{"$set": bson.M{"variants.$.stripePriceId": priceID}}
	}
	_, err := m.db.Collection(collSubscriptions).UpdateOne(ctx, filter, update)
	if err != nil {
		return extErrors.Wrap(err, "Cannot cache price id on subscription")
	}
	return nil
}

func (m *mongoStore) IncrementCouponUsage(ctx context.Context, couponID string) error {
	_, err := m.db.Collection(collCoupons).UpdateOne(ctx,
		bson.M{"_id": couponID},
		bson.M{"$inc": bson.M{"usageCount": 1}},
	)
	if err != nil {
		return extErrors.Wrap(err, "Cannot increment coupon usage")
	}
	return nil
}

func (m *mongoStore) CreateUserSubscription(ctx context.Context, doc *UserSubscriptionDoc) error {
	doc.Type = DocTypeUserSubscription
	if _, err := m.records().InsertOne(ctx, doc); err != nil {
		m.Logger.Error("Unable to create user subscription document",
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot create user subscription document")
	}
	return nil
}

func (m *mongoStore) PatchUserSubscription(ctx context.Context, docID string, patch Patch) error {
	set := bson.M{}
	if patch.Status != nil {
		set["status"] = *patch.Status
	}
	if patch.IsActive != nil {
		set["isActive"] = *patch.IsActive
	}
	if patch.StripeSubscriptionID != nil {
		set["stripeSubscriptionId"] = *patch.StripeSubscriptionID
	}
	if patch.EndDate != nil {
		set["endDate"] = *patch.EndDate
	}
	if patch.NextBillingDate != nil {
		set["nextBillingDate"] = *patch.NextBillingDate
	}
	if patch.CancellationDate != nil {
		set["cancellationDate"] = *patch.CancellationDate
	}
	if len(set) == 0 {
		return nil
	}
	_, err := m.records().UpdateOne(ctx,
		bson.M{"_id": docID},
		bson.M{"$set": set},
	)
	if err != nil {
		return extErrors.Wrap(err, "Cannot patch user subscription document")
	}
	return nil
}
