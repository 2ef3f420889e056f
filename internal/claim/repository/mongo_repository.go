package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/medaudit/internal/claim/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const claimCollection = "claim_transactions"

type mongoRepo struct {
	Collection *mongo.Collection
}

// NewMongo returns the document claim store. Each transaction is one nested
// document, unique by invoice number and provider.
func NewMongo(ctx context.Context, database *mongo.Database) (domain.Repository, error) {
	collection := database.Collection(claimCollection)
	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "invoice_number", Value: 1}, {Key: "provider_nit", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("ux_invoice_provider"),
	})
	if err != nil {
		return nil, err
	}
	return &mongoRepo{Collection: collection}, nil
}

func (r *mongoRepo) Insert(ctx context.Context, claim *domain.ClaimTransaction) error {
	_, err := r.Collection.InsertOne(ctx, claim)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicateInvoice
	}
	return err
}

func (r *mongoRepo) FindByID(ctx context.Context, id snowflake.ID) (*domain.ClaimTransaction, error) {
	return r.findOne(ctx, bson.M{"_id": int64(id)})
}

func (r *mongoRepo) FindByInvoiceAndProvider(ctx context.Context, invoiceNumber, providerNit string) (*domain.ClaimTransaction, error) {
	return r.findOne(ctx, bson.M{"invoice_number": invoiceNumber, "provider_nit": providerNit})
}

func (r *mongoRepo) findOne(ctx context.Context, filter bson.M) (*domain.ClaimTransaction, error) {
	var claim domain.ClaimTransaction
	err := r.Collection.FindOne(ctx, filter).Decode(&claim)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	claim.ReceivedAt = claim.ReceivedAt.UTC()
	claim.Normalize()
	return &claim, nil
}

func (r *mongoRepo) FindServiceLine(ctx context.Context, ref domain.ServiceRef) (*domain.ServiceLine, error) {
	claim, err := r.FindByID(ctx, ref.TransactionID)
	if err != nil || claim == nil {
		return nil, err
	}
	line, ok := claim.ServiceLine(ref)
	if !ok {
		return nil, nil
	}
	return line, nil
}

func (r *mongoRepo) CompareAndSetState(ctx context.Context, id snowflake.ID, from, to domain.ProcessingState, at time.Time) (bool, error) {
	result, err := r.Collection.UpdateOne(ctx,
		bson.M{"_id": int64(id), "processing_state": string(from)},
		bson.M{"$set": bson.M{"processing_state": string(to), "updated_at": at}},
	)
	if err != nil {
		return false, err
	}
	return result.MatchedCount > 0, nil
}
