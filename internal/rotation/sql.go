package rotation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Database drivers, selected via the rotation's "driver"
	// parameter.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	soerrors "github.com/secretops/secretops/internal/errors"
	"github.com/secretops/secretops/internal/logging"
	"github.com/secretops/secretops/internal/store"
)

// SQL rotation parameters.
const (
	sqlParamDriver    = "driver" // "postgres" or "mysql"
	sqlParamAdminDSN  = "admin_dsn"
	sqlParamUsername1 = "username1"
	sqlParamUsername2 = "username2"
	sqlParamActive    = "active_username"
)

// SQLCredentialsRotator cycles a database login between two database
// users. Each rotation resets the password of the currently inactive
// user and makes it active, so the previously issued credentials stay
// valid until the next rotation instead of breaking running clients
// immediately.
type SQLCredentialsRotator struct {
	logger *logging.Logger

	// open is replaceable for tests.
	open func(driver, dsn string) (*sql.DB, error)
}

// NewSQLCredentialsRotator creates the rotator.
func NewSQLCredentialsRotator(logger *logging.Logger) *SQLCredentialsRotator {
	return &SQLCredentialsRotator{
		logger: logger.Named("sql-credentials"),
		open:   sql.Open,
	}
}

func (r *SQLCredentialsRotator) Strategy() string {
	return "sql-credentials"
}

func (r *SQLCredentialsRotator) Rotate(ctx context.Context, rec *store.RotationRecord) (Credentials, error) {
	driver := rec.Parameters[sqlParamDriver]
	switch driver {
	case "postgres", "mysql":
	default:
		return nil, soerrors.Unrecoverable(fmt.Errorf("unsupported sql driver %q", driver))
	}

	adminDSN := rec.Parameters[sqlParamAdminDSN]
	username1 := rec.Parameters[sqlParamUsername1]
	username2 := rec.Parameters[sqlParamUsername2]
	if adminDSN == "" || username1 == "" || username2 == "" {
		return nil, soerrors.Unrecoverable(fmt.Errorf("sql rotation %s is missing admin_dsn or usernames", rec.ID))
	}

	// The inactive user is the one we reset and hand out.
	target := username1
	if rec.Parameters[sqlParamActive] == username1 {
		target = username2
	}

	password, err := generatePassword(32)
	if err != nil {
		return nil, err
	}

	db, err := r.open(driver, adminDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect as admin: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("admin connection failed: %w", err)
	}

	statement, err := alterPasswordStatement(driver, target, password)
	if err != nil {
		return nil, soerrors.Unrecoverable(err)
	}
	if _, err := db.ExecContext(ctx, statement); err != nil {
		return nil, fmt.Errorf("failed to reset password for %s: %w", target, err)
	}

	rec.Parameters[sqlParamActive] = target
	r.logger.Info("rotated sql credentials for %s, active user is now %s", rec.ID, target)

	return Credentials{
		"username": target,
		"password": password,
	}, nil
}

// alterPasswordStatement builds the driver-specific password reset.
// Identifiers and the password literal are escaped inline because
// neither engine accepts bind parameters in DDL.
func alterPasswordStatement(driver, username, password string) (string, error) {
	if strings.ContainsAny(username, "\"'`\\\x00") {
		return "", fmt.Errorf("username %q contains unsupported characters", username)
	}
	escaped := strings.ReplaceAll(password, "'", "''")

	switch driver {
	case "postgres":
		return fmt.Sprintf(`ALTER ROLE "%s" WITH PASSWORD '%s'`, username, escaped), nil
	case "mysql":
		return fmt.Sprintf("ALTER USER '%s'@'%%' IDENTIFIED BY '%s'", username, escaped), nil
	default:
		return "", fmt.Errorf("unsupported sql driver %q", driver)
	}
}
