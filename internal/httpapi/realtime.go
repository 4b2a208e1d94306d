package httpapi

import (
	"net/http"

	"github.com/lastmile/courier-core/internal/ids"
)

// handleWebSocket upgrades the connection and blocks for the lifetime of the
// session; authentication happens over the socket itself via an
// "authenticate" message, not the HTTP handshake, so this handler does not
// call requireAuth.
func (d *Deps) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	connID := ids.New()
	if err := d.Realtime.Upgrade(w, r, connID); err != nil {
		if d.Log != nil {
			d.Log.Warn("realtime: upgrade/session ended", map[string]any{"connectionId": connID, "error": err.Error()})
		}
	}
}
