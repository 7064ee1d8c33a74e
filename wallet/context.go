/*
context.go - Tenant context resolution

PURPOSE:
  Derives the immutable (user, tenant, role) Context from an authenticated
  session. Every wallet operation takes this Context as an explicit
  parameter; nothing downstream ever reads identity from ambient state.

WHY EXPLICIT?
  The classic cross-tenant leakage bug comes from global currentUser /
  currentTenant reads that silently pick up the wrong identity. Resolving
  once at the boundary and threading the value through makes the tenant an
  argument the compiler checks, not a lookup the developer must remember.

TRUST MODEL:
  The session itself is produced by the platform's auth layer and trusted
  here. The store still independently re-verifies that every row touched
  belongs to ctx.TenantID (defense in depth, see store/sqlite).
*/
package wallet

// Session is the authenticated identity handed over by the platform's
// session/auth layer. Zero-value fields mean the claim was absent.
type Session struct {
	UserID   string
	TenantID string
	Role     string
}

// ResolveContext validates a session and returns the immutable Context all
// wallet operations are parameterized by.
//
// Fails with ErrUnauthenticated when the session or its user claim is
// missing, and ErrTenantMismatch when the tenant claim is absent or
// malformed.
func ResolveContext(s *Session) (Context, error) {
	if s == nil || s.UserID == "" {
		return Context{}, ErrUnauthenticated
	}
	if s.TenantID == "" {
		return Context{}, &TenantMismatchError{ContextTenant: "", RowTenant: ""}
	}

	role := Role(s.Role)
	switch role {
	case RoleAdmin, RoleService:
		// elevated roles pass through as-is
	default:
		role = RoleCustomer
	}

	return Context{
		UserID:   UserID(s.UserID),
		TenantID: TenantID(s.TenantID),
		Role:     role,
	}, nil
}
