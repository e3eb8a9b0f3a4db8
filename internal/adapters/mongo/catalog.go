package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/stay-reservations/internal/domain"
	"github.com/robertarktes/stay-reservations/internal/observability"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogRepository reads places from the listing service's collection.
// Only the fields the booking core needs are mapped.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("places"),
		logger: logger,
	}
}

type PlaceDoc struct {
	ID        string               `bson:"_id"`
	OwnerID   string               `bson:"owner_id"`
	Title     string               `bson:"title,omitempty"`
	Price     primitive.Decimal128 `bson:"price"`
	Currency  string               `bson:"currency"`
	MaxGuests int                  `bson:"max_guests"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

func (d PlaceDoc) toPlace() (*domain.Place, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "place id %q", d.ID)
	}
	owner, err := uuid.Parse(d.OwnerID)
	if err != nil {
		return nil, errors.Wrapf(err, "owner of place %s", d.ID)
	}
	price, err := decimal.NewFromString(d.Price.String())
	if err != nil {
		return nil, errors.Wrapf(err, "price of place %s", d.ID)
	}
	cur, err := domain.ParseCurrency(d.Currency)
	if err != nil {
		return nil, err
	}
	p := &domain.Place{ID: id, OwnerID: owner, Price: price, Currency: cur, MaxGuests: d.MaxGuests}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *CatalogRepository) GetPlace(ctx context.Context, id uuid.UUID) (*domain.Place, error) {
	var doc PlaceDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.NotFoundf("place %s not found", id)
	}
	if err != nil {
		c.logger.WithError(err).WithField("place_id", id).Error("failed to get place")
		return nil, errors.Wrap(err, "get place")
	}
	return doc.toPlace()
}

// UpsertPlace writes a place; used for seeding and by tests.
func (c *CatalogRepository) UpsertPlace(ctx context.Context, p domain.Place, title string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	price, err := primitive.ParseDecimal128(p.Price.String())
	if err != nil {
		return errors.Wrap(err, "encode price")
	}
	now := time.Now().UTC()
	_, err = c.coll.UpdateOne(ctx,
		bson.M{"_id": p.ID.String()},
		bson.M{
			"$set": bson.M{
				"owner_id":   p.OwnerID.String(),
				"title":      title,
				"price":      price,
				"currency":   string(p.Currency),
				"max_guests": p.MaxGuests,
				"updated_at": now,
			},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		c.logger.WithError(err).WithField("place_id", p.ID).Error("failed to upsert place")
		return errors.Wrap(err, "upsert place")
	}
	return nil
}
