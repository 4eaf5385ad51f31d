package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/insightconsole/backend/internal/auditctx"
	"github.com/insightconsole/backend/internal/database/testutil"
	"github.com/insightconsole/backend/internal/models"
)

func TestAuditServiceLogAndList(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := context.Background()
	err = svc.Log(ctx, AuditEntry{
		UserID:       "u-1",
		FirmID:       "firm-a",
		Action:       AuditTenantDenied,
		ResourceType: "deal",
		ResourceID:   "deal-1",
		Result:       AuditResultDenied,
		Metadata:     map[string]any{"owner_firm": "firm-b"},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Log(ctx, AuditEntry{FirmID: "firm-b", Action: AuditWorkflowQueued, Result: AuditResultSuccess}))

	logs, total, err := svc.List(ctx, AuditListOptions{Filters: AuditFilters{FirmID: "firm-a"}})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, logs, 1)
	require.Equal(t, AuditTenantDenied, logs[0].Action)
	require.NotNil(t, logs[0].UserID)
	require.Equal(t, "u-1", *logs[0].UserID)

	var metadata map[string]any
	require.NoError(t, json.Unmarshal(logs[0].Metadata, &metadata))
	require.Equal(t, "firm-b", metadata["owner_firm"])

	_, _, err = svc.List(ctx, AuditListOptions{})
	require.Error(t, err)
}

func TestAuditServiceListPages(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&models.AuditLog{
			FirmID:    ptr("firm-a"),
			Action:    AuditLinkVerified,
			Result:    AuditResultSuccess,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}
	require.NoError(t, db.Create(&models.AuditLog{
		FirmID:    ptr("firm-a"),
		Action:    AuditTenantDenied,
		Result:    AuditResultDenied,
		CreatedAt: base.Add(time.Hour),
	}).Error)

	logs, total, err := svc.List(ctx, AuditListOptions{Page: 2, PageSize: 2, Filters: AuditFilters{FirmID: "firm-a", Action: AuditLinkVerified}})
	require.NoError(t, err)
	require.EqualValues(t, 5, total)
	require.Len(t, logs, 2)
	require.True(t, logs[0].CreatedAt.Equal(base.Add(2*time.Minute)))

	since := base.Add(30 * time.Minute)
	logs, total, err = svc.List(ctx, AuditListOptions{Filters: AuditFilters{FirmID: "firm-a", Since: &since}})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, AuditTenantDenied, logs[0].Action)
}

func ptr(value string) *string { return &value }

func TestAuditServiceRejectsIncompleteEntries(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	require.Error(t, svc.Log(context.Background(), AuditEntry{Result: AuditResultSuccess}))
	require.Error(t, svc.Log(context.Background(), AuditEntry{Action: "x"}))
}

func TestAuditServiceCleanupOlderThan(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	oldLog := models.AuditLog{
		Action:    "old.action",
		Result:    AuditResultSuccess,
		CreatedAt: time.Now().AddDate(0, 0, -10),
	}
	require.NoError(t, db.Create(&oldLog).Error)
	require.NoError(t, db.Create(&models.AuditLog{Action: "new.action", Result: AuditResultSuccess}).Error)

	rows, err := svc.CleanupOlderThan(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	var remaining int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&remaining).Error)
	require.Equal(t, int64(1), remaining)

	_, err = svc.CleanupOlderThan(context.Background(), 0)
	require.Error(t, err)
}

func TestAuditRecordFillsActorFromContext(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewAuditService(db)
	require.NoError(t, err)

	ctx := auditctx.WithActor(context.Background(), auditctx.Actor{
		UserID:    "u-9",
		FirmID:    "firm-9",
		IPAddress: "203.0.113.7",
		UserAgent: "curl/8",
	})
	svc.Record(ctx, AuditEntry{Action: AuditWorkflowQueued, Result: AuditResultSuccess})
	var disabled *AuditService
	disabled.Record(ctx, AuditEntry{Action: "ignored", Result: AuditResultSuccess})

	var logs []models.AuditLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	require.Equal(t, "203.0.113.7", logs[0].IPAddress)
	require.Equal(t, "curl/8", logs[0].UserAgent)
	require.Equal(t, "firm-9", *logs[0].FirmID)
}
