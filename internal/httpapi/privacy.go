package httpapi

import (
	"net/http"

	"github.com/lastmile/courier-core/internal/access"
	"github.com/lastmile/courier-core/internal/apierrors"
	"github.com/lastmile/courier-core/internal/audit"
)

// handlePermissions is an introspection endpoint: it returns the caller's
// own granted permissions, never another role's, so it needs no dedicated
// grant beyond being authenticated.
func (d *Deps) handlePermissions(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requireAuth(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"role":        claims.Role,
		"permissions": access.Grants(claims.Role),
	})
}

func (d *Deps) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("read", "audit"))
	if !ok {
		return
	}
	if err := d.Ledger.Verify(); err != nil {
		d.audit(claims.UserID, "audit.verify", "", audit.ResultFailure, map[string]any{"reason": err.Error()})
		apierrors.Write(w, apierrors.AuditChainBroken, err.Error(), requestIDFrom(r), nil)
		return
	}
	d.audit(claims.UserID, "audit.verify", "", audit.ResultSuccess, nil)
	writeJSON(w, r, http.StatusOK, map[string]bool{"valid": true})
}
