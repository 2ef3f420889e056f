package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/medaudit/internal/claim/domain"
	"github.com/smallbiznis/medaudit/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

// Mongo keeps millisecond precision, so fixture times are whole seconds.
func mongoClaim(id snowflake.ID) *domain.ClaimTransaction {
	claim := &domain.ClaimTransaction{
		ID:              id,
		InvoiceNumber:   "FE-9001",
		ProviderNit:     "900123456",
		ProviderName:    "IPS Central",
		ReceivedAt:      testutil.BaseTime,
		ProcessingState: domain.StateReceived,
		Users: []domain.PatientRecord{
			{
				DocumentType:   "CC",
				DocumentNumber: "1020304050",
				Services: domain.ServiceBundle{
					Procedures: []domain.ServiceLine{
						{ServiceCode: "890201", ServiceDate: testutil.BaseTime, BilledValue: 100_000},
						{ServiceCode: "890202", ServiceDate: testutil.BaseTime, BilledValue: 45_000},
					},
				},
			},
		},
		CreatedAt: testutil.BaseTime,
		UpdatedAt: testutil.BaseTime,
	}
	claim.Normalize()
	return claim
}

func claimDocument(mt *mtest.T, claim *domain.ClaimTransaction) bson.D {
	mt.Helper()
	raw, err := bson.Marshal(claim)
	require.NoError(mt, err)
	var doc bson.D
	require.NoError(mt, bson.Unmarshal(raw, &doc))
	return doc
}

func newMongoRepo(mt *mtest.T) domain.Repository {
	mt.Helper()
	mt.AddMockResponses(mtest.CreateSuccessResponse())
	repo, err := NewMongo(context.Background(), mt.DB)
	require.NoError(mt, err)
	return repo
}

func namespace(mt *mtest.T) string {
	return mt.DB.Name() + "." + claimCollection
}

func TestMongoRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	id := snowflake.ID(1780000000000000001)

	mt.Run("new creates the invoice index", func(mt *mtest.T) {
		newMongoRepo(mt)

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "createIndexes", started.CommandName)
		index := started.Command.Lookup("indexes").Array().Index(0).Value().Document()
		assert.Equal(mt, "ux_invoice_provider", index.Lookup("name").StringValue())
		assert.True(mt, index.Lookup("unique").Boolean())
	})

	mt.Run("insert stores the snowflake as _id", func(mt *mtest.T) {
		repo := newMongoRepo(mt)
		mt.ClearEvents()
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		require.NoError(mt, repo.Insert(ctx, mongoClaim(id)))

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "insert", started.CommandName)
		doc := started.Command.Lookup("documents").Array().Index(0).Value().Document()
		assert.Equal(mt, int64(id), doc.Lookup("_id").Int64())
		assert.Equal(mt, "FE-9001", doc.Lookup("invoice_number").StringValue())
		_, err := doc.LookupErr("transaction_stats")
		assert.Error(mt, err, "derived stats are not persisted")
	})

	mt.Run("duplicate invoice", func(mt *mtest.T) {
		repo := newMongoRepo(mt)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error collection: claim_transactions index: ux_invoice_provider",
		}))

		err := repo.Insert(ctx, mongoClaim(id))
		assert.ErrorIs(mt, err, domain.ErrDuplicateInvoice)
	})

	mt.Run("find by id round-trips the document", func(mt *mtest.T) {
		repo := newMongoRepo(mt)
		want := mongoClaim(id)
		mt.ClearEvents()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, claimDocument(mt, want)))

		got, err := repo.FindByID(ctx, id)
		require.NoError(mt, err)
		require.NotNil(mt, got)
		assert.Equal(mt, id, got.ID)
		assert.Equal(mt, want.InvoiceNumber, got.InvoiceNumber)
		assert.Equal(mt, time.UTC, got.ReceivedAt.Location())
		assert.True(mt, want.ReceivedAt.Equal(got.ReceivedAt))
		assert.Equal(mt, 2, got.Stats.TotalServices)

		filter := mt.GetStartedEvent().Command.Lookup("filter").Document()
		assert.Equal(mt, int64(id), filter.Lookup("_id").Int64())
	})

	mt.Run("find by id missing", func(mt *mtest.T) {
		repo := newMongoRepo(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		got, err := repo.FindByID(ctx, id)
		require.NoError(mt, err)
		assert.Nil(mt, got)
	})

	mt.Run("find service line", func(mt *mtest.T) {
		repo := newMongoRepo(mt)
		doc := claimDocument(mt, mongoClaim(id))
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, doc),
			mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, doc),
		)

		ref := domain.ServiceRef{TransactionID: id, ServiceType: domain.ServiceProcedure, ServiceIndex: 1}
		line, err := repo.FindServiceLine(ctx, ref)
		require.NoError(mt, err)
		require.NotNil(mt, line)
		assert.Equal(mt, "890202", line.ServiceCode)
		assert.Equal(mt, int64(45_000), line.BilledValue)

		ref.ServiceIndex = 5
		line, err = repo.FindServiceLine(ctx, ref)
		require.NoError(mt, err)
		assert.Nil(mt, line)
	})

	mt.Run("compare and set state", func(mt *mtest.T) {
		repo := newMongoRepo(mt)
		at := testutil.BaseTime.Add(time.Hour)
		mt.ClearEvents()
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 1}),
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 0}, bson.E{Key: "nModified", Value: 0}),
		)

		ok, err := repo.CompareAndSetState(ctx, id, domain.StateReceived, domain.StateValidated, at)
		require.NoError(mt, err)
		assert.True(mt, ok)

		update := mt.GetStartedEvent().Command.Lookup("updates").Array().Index(0).Value().Document()
		query := update.Lookup("q").Document()
		assert.Equal(mt, int64(id), query.Lookup("_id").Int64())
		assert.Equal(mt, string(domain.StateReceived), query.Lookup("processing_state").StringValue())
		set := update.Lookup("u").Document().Lookup("$set").Document()
		assert.Equal(mt, string(domain.StateValidated), set.Lookup("processing_state").StringValue())

		// A concurrent writer moved the state first.
		ok, err = repo.CompareAndSetState(ctx, id, domain.StateReceived, domain.StateValidated, at)
		require.NoError(mt, err)
		assert.False(mt, ok)
	})
}
