package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/insightconsole/backend/internal/auth"
	"github.com/insightconsole/backend/internal/database"
	"github.com/insightconsole/backend/internal/database/testutil"
	"github.com/insightconsole/backend/internal/models"
)

func newIdentityService(t *testing.T, opts ...testutil.TestDBOption) (*gorm.DB, *IdentityService) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, append([]testutil.TestDBOption{testutil.WithAutoMigrate()}, opts...)...)
	audit, err := NewAuditService(db)
	require.NoError(t, err)
	svc, err := NewIdentityService(db, audit)
	require.NoError(t, err)
	return db, svc
}

func TestResolveOrProvisionCreatesPersonalFirm(t *testing.T) {
	db, svc := newIdentityService(t)
	ctx := context.Background()

	user, created, err := svc.ResolveOrProvision(ctx, " Jane.Doe@Solo.Example ")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "jane.doe@solo.example", user.Email)
	require.Equal(t, "Jane Doe", user.DisplayName)
	require.Equal(t, models.DefaultRole, user.Role)
	require.True(t, user.IsActive)
	require.NotEmpty(t, user.FirmID)

	var firm models.Firm
	require.NoError(t, db.First(&firm, "id = ?", user.FirmID).Error)
	require.Nil(t, firm.EmailDomain)

	again, created, err := svc.ResolveOrProvision(ctx, "jane.doe@solo.example")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, user.ID, again.ID)

	var audits int64
	require.NoError(t, db.Model(&models.AuditLog{}).Where("action = ?", AuditIdentityCreated).Count(&audits).Error)
	require.Equal(t, int64(1), audits)
}

func TestResolveOrProvisionJoinsDomainFirm(t *testing.T) {
	db, svc := newIdentityService(t, testutil.WithDomainFirms(database.DomainFirm{Domain: "acme.example", Name: "Acme Capital"}))
	ctx := context.Background()

	first, _, err := svc.ResolveOrProvision(ctx, "ana@acme.example")
	require.NoError(t, err)
	second, _, err := svc.ResolveOrProvision(ctx, "bo@acme.example")
	require.NoError(t, err)
	outsider, _, err := svc.ResolveOrProvision(ctx, "cy@other.example")
	require.NoError(t, err)

	require.Equal(t, first.FirmID, second.FirmID)
	require.NotEqual(t, first.FirmID, outsider.FirmID)

	var firm models.Firm
	require.NoError(t, db.First(&firm, "id = ?", first.FirmID).Error)
	require.Equal(t, "Acme Capital", firm.Name)
}

func TestResolveOrProvisionConcurrentSameEmail(t *testing.T) {
	db, svc := newIdentityService(t)
	ctx := context.Background()

	const workers = 6
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, _, err := svc.ResolveOrProvision(ctx, "race@solo.example")
			errs[i] = err
			if user != nil {
				ids[i] = user.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
	}

	var count int64
	require.NoError(t, db.Model(&models.User{}).Where("email = ?", "race@solo.example").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestResolveOrProvisionRejectsInvalidEmail(t *testing.T) {
	_, svc := newIdentityService(t)

	_, _, err := svc.ResolveOrProvision(context.Background(), "not-an-email")
	require.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestIdentityGetAndTouchLogin(t *testing.T) {
	_, svc := newIdentityService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrIdentityNotFound)
	_, err = svc.TouchLogin(ctx, "missing")
	require.ErrorIs(t, err, ErrIdentityNotFound)

	user, _, err := svc.ResolveOrProvision(ctx, "ana@solo.example")
	require.NoError(t, err)
	require.Nil(t, user.LastLoginAt)

	stamped, err := svc.TouchLogin(ctx, user.ID)
	require.NoError(t, err)

	reloaded, err := svc.Get(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastLoginAt)
	require.WithinDuration(t, stamped, *reloaded.LastLoginAt, 0)

	byEmail, err := svc.FindByEmail(ctx, "ANA@solo.example")
	require.NoError(t, err)
	require.Equal(t, user.ID, byEmail.ID)
}

func TestDisplayNameFromEmail(t *testing.T) {
	cases := map[string]string{
		"jane.doe@x.example":        "Jane Doe",
		"bob_smith+deals@x.example": "Bob Smith",
		"élise@x.example":           "Élise",
		"+tag@x.example":            "+tag@x.example",
	}
	for input, want := range cases {
		require.Equal(t, want, DisplayNameFromEmail(input), input)
	}
}

func TestIsUniqueConstraintError(t *testing.T) {
	require.False(t, isUniqueConstraintError(nil))
	require.True(t, isUniqueConstraintError(gorm.ErrDuplicatedKey))
	require.True(t, isUniqueConstraintError(&pgconn.PgError{Code: "23505"}))
	require.True(t, isUniqueConstraintError(&mysql.MySQLError{Number: 1062}))
	require.True(t, isUniqueConstraintError(errors.New("UNIQUE constraint failed: users.email")))
	require.False(t, isUniqueConstraintError(errors.New("connection reset")))
}
