package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/medaudit/internal/claim/domain"
	"github.com/smallbiznis/medaudit/internal/claim/repository"
	"github.com/smallbiznis/medaudit/internal/clock"
	"github.com/smallbiznis/medaudit/internal/testutil"
	tracedomain "github.com/smallbiznis/medaudit/internal/traceability/domain"
	tracerepo "github.com/smallbiznis/medaudit/internal/traceability/repository"
	traceservice "github.com/smallbiznis/medaudit/internal/traceability/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupClaimService(t *testing.T) (domain.Service, tracedomain.Service) {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(testutil.BaseTime.Add(96 * time.Hour))

	trace := traceservice.New(traceservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  tracerepo.Provide(),
	})
	svc := New(Params{
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.NewSQL(db),
		Trace: trace,
	})
	return svc, trace
}

func TestSaveKeepsRIPSOrder(t *testing.T) {
	svc, trace := setupClaimService(t)
	ctx := context.Background()

	req := testutil.CleanClaim("FE-1001")
	req.Users = append(req.Users, domain.PatientRecord{
		DocumentType:   "TI",
		DocumentNumber: "99887766",
		Services: domain.ServiceBundle{
			Consultations: []domain.ServiceLine{
				{ServiceCode: "890101", ServiceDate: testutil.BaseTime, BilledValue: 35_000},
				{ServiceCode: "890102", ServiceDate: testutil.BaseTime, BilledValue: 45_000},
			},
			Medications: []domain.ServiceLine{
				{ServiceCode: "M-ACET", ServiceDate: testutil.BaseTime, BilledValue: 1_200, Quantity: testutil.Ptr(3)},
			},
		},
	})

	saved, err := svc.Save(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReceived, saved.ProcessingState)
	assert.Equal(t, 2, saved.Stats.TotalUsers)
	assert.Equal(t, 4, saved.Stats.TotalServices)

	loaded, err := svc.GetByID(ctx, saved.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Users, 2)
	assert.Equal(t, "1020304050", loaded.Users[0].DocumentNumber)
	assert.Equal(t, "99887766", loaded.Users[1].DocumentNumber)
	require.Len(t, loaded.Users[1].Services.Consultations, 2)
	assert.Equal(t, "890101", loaded.Users[1].Services.Consultations[0].ServiceCode)
	assert.Equal(t, "890102", loaded.Users[1].Services.Consultations[1].ServiceCode)
	require.NotNil(t, loaded.Users[1].Services.Medications[0].Quantity)
	assert.Equal(t, 3, *loaded.Users[1].Services.Medications[0].Quantity)
	assert.Equal(t, "AUT-001", *loaded.Users[0].Services.Procedures[0].AuthorizationNumber)
	assert.Equal(t, saved.Stats, loaded.Stats)

	count, err := trace.Count(ctx, saved.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestSaveRejectsInvalidRequests(t *testing.T) {
	svc, _ := setupClaimService(t)
	ctx := context.Background()

	_, err := svc.Save(ctx, testutil.CleanClaim("FE-2001"))
	require.NoError(t, err)

	t.Run("duplicate invoice and provider", func(t *testing.T) {
		_, err := svc.Save(ctx, testutil.CleanClaim("FE-2001"))
		assert.ErrorIs(t, err, domain.ErrDuplicateInvoice)
	})

	t.Run("negative billed value", func(t *testing.T) {
		req := testutil.CleanClaim("FE-2002")
		req.Users[0].Services.Procedures[0].BilledValue = -1
		_, err := svc.Save(ctx, req)
		assert.ErrorIs(t, err, domain.ErrNegativeBilledValue)
	})

	t.Run("missing invoice number", func(t *testing.T) {
		req := testutil.CleanClaim("  ")
		_, err := svc.Save(ctx, req)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("service without code", func(t *testing.T) {
		req := testutil.CleanClaim("FE-2003")
		req.Users[0].Services.Procedures[0].ServiceCode = ""
		_, err := svc.Save(ctx, req)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})
}

func TestGetServiceLine(t *testing.T) {
	svc, _ := setupClaimService(t)
	ctx := context.Background()

	saved, err := svc.Save(ctx, testutil.CleanClaim("FE-3001"))
	require.NoError(t, err)

	ref := domain.ServiceRef{TransactionID: saved.ID, PatientIndex: 0, ServiceType: domain.ServiceProcedure, ServiceIndex: 0}
	line, err := svc.GetServiceLine(ctx, ref)
	require.NoError(t, err)
	assert.EqualValues(t, 100_000, line.BilledValue)
	assert.True(t, line.ServiceDate.Equal(testutil.BaseTime))

	ref.ServiceIndex = 1
	_, err = svc.GetServiceLine(ctx, ref)
	assert.ErrorIs(t, err, domain.ErrServiceNotFound)
}

func TestAdvanceStateNeverRegresses(t *testing.T) {
	svc, _ := setupClaimService(t)
	ctx := context.Background()

	saved, err := svc.Save(ctx, testutil.CleanClaim("FE-4001"))
	require.NoError(t, err)

	require.NoError(t, svc.AdvanceState(ctx, saved.ID, domain.StateInAudit))
	require.NoError(t, svc.AdvanceState(ctx, saved.ID, domain.StateValidated))
	require.NoError(t, svc.AdvanceState(ctx, saved.ID, domain.StateInAudit))

	loaded, err := svc.GetByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInAudit, loaded.ProcessingState)

	assert.ErrorIs(t, svc.AdvanceState(ctx, saved.ID, domain.ProcessingState("ARCHIVED")), domain.ErrInvalidState)
	assert.ErrorIs(t, svc.AdvanceState(ctx, saved.ID+1, domain.StateAudited), domain.ErrNotFound)
}

func TestFindByInvoiceAndProvider(t *testing.T) {
	svc, _ := setupClaimService(t)
	ctx := context.Background()

	missing, err := svc.FindByInvoiceAndProvider(ctx, "FE-5001", "900123456")
	require.NoError(t, err)
	assert.Nil(t, missing)

	saved, err := svc.Save(ctx, testutil.CleanClaim("FE-5001"))
	require.NoError(t, err)

	found, err := svc.FindByInvoiceAndProvider(ctx, "FE-5001", "900123456")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, saved.ID, found.ID)

	_, err = svc.GetByID(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
