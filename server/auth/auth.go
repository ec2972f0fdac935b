// Package auth checks bus user and admin credentials and bus permissions.
package auth

import (
	"context"

	"github.com/janrain/backplane/server/auth/basic"
	"github.com/janrain/backplane/server/bpconfig"
	"github.com/janrain/backplane/server/logs"
	"github.com/janrain/backplane/server/store/types"
)

const accessDenied = "Access denied."

// AuthError is a credential or permission failure. The reason is shown to clients
// only in debug mode.
type AuthError struct {
	Reason string
	debug  bool
}

func (e *AuthError) Error() string {
	if e.debug && e.Reason != "" {
		return accessDenied + " " + e.Reason
	}
	return accessDenied
}

// Getter reads a single item.
type Getter interface {
	Get(ctx context.Context, table, key string) (types.Attrs, error)
}

// DebugModer reports the server debug mode.
type DebugModer interface {
	DebugMode(ctx context.Context) bool
}

// Authenticator checks credentials against the user, admin and bus tables of an instance.
type Authenticator struct {
	src    Getter
	tables bpconfig.Tables
	debug  DebugModer
}

// New creates an authenticator.
func New(src Getter, tables bpconfig.Tables, debug DebugModer) *Authenticator {
	return &Authenticator{src: src, tables: tables, debug: debug}
}

func (a *Authenticator) fail(ctx context.Context, reason string) error {
	logs.Warn.Println("auth:", reason)
	return &AuthError{Reason: reason, debug: a.debug.DebugMode(ctx)}
}

// checkUser verifies the password of a user stored in the table.
func (a *Authenticator) checkUser(ctx context.Context, table, uname, password string) error {
	attrs, err := a.src.Get(ctx, table, uname)
	if err != nil {
		logs.Err.Println("auth: user lookup:", err)
		return err
	}
	if attrs == nil {
		return a.fail(ctx, "User not found: "+uname)
	}
	user, err := types.UserFromAttrs(attrs)
	if err != nil {
		return a.fail(ctx, "Invalid user record: "+uname)
	}
	if err := basic.CheckHash(password, user.PwdHash); err != nil {
		return a.fail(ctx, "Incorrect password for user "+uname)
	}
	return nil
}

// CheckAuth verifies a Basic authorization header and that the user holds the
// permission on the bus. Returns the user name. Store failures are returned as is,
// not as an AuthError.
func (a *Authenticator) CheckAuth(ctx context.Context, header, bus string, perm types.Permission) (string, error) {
	uname, password, err := basic.ParseHeader(header)
	if err != nil {
		// The header carries the secret, only the structural reason is reported.
		return "", a.fail(ctx, "Invalid Authorization header")
	}
	if err := a.checkUser(ctx, a.tables.Users(), uname, password); err != nil {
		return "", err
	}

	attrs, err := a.src.Get(ctx, a.tables.Buses(), bus)
	if err != nil {
		logs.Err.Println("auth: bus lookup:", err)
		return "", err
	}
	if attrs == nil {
		return "", a.fail(ctx, "Bus configuration not found for "+bus)
	}
	busConfig, err := types.BusFromAttrs(attrs)
	if err != nil {
		return "", a.fail(ctx, "Invalid bus configuration for "+bus)
	}
	granted, err := busConfig.Permissions(uname)
	if err != nil || !granted.Has(perm) {
		return "", a.fail(ctx, "User "+uname+" denied "+perm.String()+" to "+bus)
	}
	return uname, nil
}

// CheckAdminAuth verifies admin credentials. There is no permission step.
func (a *Authenticator) CheckAdminAuth(ctx context.Context, uname, password string) error {
	if uname == "" {
		return a.fail(ctx, "Admin user name is missing")
	}
	return a.checkUser(ctx, a.tables.Admins(), uname, password)
}
