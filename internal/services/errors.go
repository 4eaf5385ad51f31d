package services

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrIdentityNotFound indicates no identity exists for the id or email.
	ErrIdentityNotFound = errors.New("identity: not found")
	// ErrIdentityInactive indicates an operator disabled the identity.
	ErrIdentityInactive = errors.New("identity: inactive")
	// ErrRecordNotFound indicates a deal, document or workflow does not exist.
	ErrRecordNotFound = errors.New("deal service: record not found")
	// ErrInvalidWorkflowType indicates an unsupported analysis type.
	ErrInvalidWorkflowType = errors.New("deal service: invalid workflow type")
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	// sqlite reports "UNIQUE constraint failed: users.email"
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
