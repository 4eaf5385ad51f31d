package tenancy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/insightconsole/backend/internal/database/testutil"
	"github.com/insightconsole/backend/internal/models"
	"github.com/insightconsole/backend/internal/services"
)

type tenantFixture struct {
	db       *gorm.DB
	enforcer *Enforcer
	deal     models.Deal
	document models.Document
	workflow models.Workflow
}

func newTenantFixture(t *testing.T) *tenantFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	enforcer, err := NewEnforcer(db, WithAudit(audit))
	require.NoError(t, err)

	fx := &tenantFixture{db: db, enforcer: enforcer}
	fx.deal = models.Deal{Name: "Falcon", FirmID: "firm-a", CreatedByID: "user-a"}
	require.NoError(t, db.Create(&fx.deal).Error)
	fx.document = models.Document{DealID: fx.deal.ID, Filename: "cim.pdf", FilePath: "x/cim.pdf", UploadedByID: "user-a"}
	require.NoError(t, db.Create(&fx.document).Error)
	fx.workflow = models.Workflow{DealID: fx.deal.ID, WorkflowType: models.WorkflowMarketSizing}
	require.NoError(t, db.Create(&fx.workflow).Error)
	return fx
}

func TestAuthorizeOwnedResources(t *testing.T) {
	fx := newTenantFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.enforcer.Authorize(ctx, "firm-a", KindDeal, fx.deal.ID))
	require.NoError(t, fx.enforcer.Authorize(ctx, "firm-a", KindDocument, fx.document.ID))
	require.NoError(t, fx.enforcer.Authorize(ctx, "firm-a", KindWorkflow, fx.workflow.ID))
}

func TestAuthorizeCrossTenantIsForbiddenAndAudited(t *testing.T) {
	fx := newTenantFixture(t)
	ctx := context.Background()

	for kind, id := range map[Kind]string{
		KindDeal:     fx.deal.ID,
		KindDocument: fx.document.ID,
		KindWorkflow: fx.workflow.ID,
	} {
		err := fx.enforcer.Authorize(ctx, "firm-b", kind, id)
		require.ErrorIs(t, err, ErrCrossTenant, string(kind))
	}

	var denials []models.AuditLog
	require.NoError(t, fx.db.Where("action = ?", services.AuditTenantDenied).Find(&denials).Error)
	require.Len(t, denials, 3)
	require.Equal(t, "firm-b", *denials[0].FirmID)
}

func TestAuthorizeMissingResourceIsNotFound(t *testing.T) {
	fx := newTenantFixture(t)
	ctx := context.Background()

	for _, kind := range []Kind{KindDeal, KindDocument, KindWorkflow} {
		require.ErrorIs(t, fx.enforcer.Authorize(ctx, "firm-a", kind, "00000000-0000-0000-0000-000000000000"), ErrResourceNotFound)
		require.ErrorIs(t, fx.enforcer.Authorize(ctx, "firm-b", kind, "00000000-0000-0000-0000-000000000000"), ErrResourceNotFound)
	}
	require.ErrorIs(t, fx.enforcer.Authorize(ctx, "firm-a", KindDeal, " "), ErrResourceNotFound)
}

func TestAuthorizeEmptyCallerTenantIsForbidden(t *testing.T) {
	fx := newTenantFixture(t)

	err := fx.enforcer.Authorize(context.Background(), "", KindDeal, fx.deal.ID)
	require.ErrorIs(t, err, ErrCrossTenant)
}

func TestOwnerOfUnknownKind(t *testing.T) {
	fx := newTenantFixture(t)

	_, err := fx.enforcer.OwnerOf(context.Background(), Kind("invoice"), fx.deal.ID)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestDocumentOwnershipFollowsDeal(t *testing.T) {
	fx := newTenantFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.db.Model(&models.Deal{}).Where("id = ?", fx.deal.ID).Update("firm_id", "firm-b").Error)

	require.ErrorIs(t, fx.enforcer.Authorize(ctx, "firm-a", KindDocument, fx.document.ID), ErrCrossTenant)
	require.NoError(t, fx.enforcer.Authorize(ctx, "firm-b", KindDocument, fx.document.ID))
}
