package httpapi

import (
	"net/http"

	"github.com/lastmile/courier-core/internal/apierrors"
	"github.com/lastmile/courier-core/internal/audit"
	"github.com/lastmile/courier-core/internal/notify"
)

type sendNotificationRequest struct {
	RecipientID string            `json:"recipientId"`
	Channel     string            `json:"channel"`
	TemplateID  string            `json:"templateId"`
	Content     map[string]string `json:"content"`
	Priority    string            `json:"priority"`
}

// handleSendNotification has no dedicated permission grant in the fixed
// role table; any authenticated caller may trigger a send, the same as the
// reference's own service-to-service notification entry point.
func (d *Deps) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requireAuth(w, r)
	if !ok {
		return
	}
	var req sendNotificationRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	n, err := d.Notify.Send(req.RecipientID, notify.Channel(req.Channel), req.TemplateID, req.Content, notify.Priority(req.Priority))
	if err != nil {
		d.audit(claims.UserID, "notify.send", req.RecipientID, audit.ResultFailure, map[string]any{"channel": req.Channel, "reason": err.Error()})
		switch err {
		case notify.ErrChannelInvalid:
			apierrors.Write(w, apierrors.NotifyChannelInvalid, err.Error(), requestIDFrom(r), nil)
		case notify.ErrRateLimited:
			apierrors.Write(w, apierrors.NotifyRateLimited, err.Error(), requestIDFrom(r), nil)
		case notify.ErrChannelNotPreferred, notify.ErrQuietHours:
			apierrors.Write(w, apierrors.ValidationInvalid, err.Error(), requestIDFrom(r), nil)
		default:
			apierrors.Write(w, apierrors.Internal, "notification send failed", requestIDFrom(r), nil)
		}
		return
	}
	d.audit(claims.UserID, "notify.send", req.RecipientID, audit.ResultSuccess, map[string]any{"channel": req.Channel, "templateId": req.TemplateID})
	writeJSON(w, r, http.StatusAccepted, n)
}

func (d *Deps) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requireAuth(w, r)
	if !ok {
		return
	}
	recipientID := r.URL.Query().Get("recipientId")
	if recipientID == "" {
		recipientID = claims.UserID
	}
	writeJSON(w, r, http.StatusOK, d.Notify.ListForRecipient(recipientID))
}

func (d *Deps) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requireAuth(w, r)
	if !ok {
		return
	}
	id := pathVar(r, "id")
	if err := d.Notify.MarkDelivered(id); err != nil {
		if err == notify.ErrStatusRegression {
			d.audit(claims.UserID, "notify.mark_delivered", id, audit.ResultFailure, map[string]any{"reason": err.Error()})
			apierrors.Write(w, apierrors.NotifyStatusRegression, err.Error(), requestIDFrom(r), nil)
			return
		}
		d.audit(claims.UserID, "notify.mark_delivered", id, audit.ResultFailure, nil)
		apierrors.Write(w, apierrors.StorageNotFound, "notification not found", requestIDFrom(r), nil)
		return
	}
	d.audit(claims.UserID, "notify.mark_delivered", id, audit.ResultSuccess, nil)
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "delivered"})
}

func (d *Deps) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requireAuth(w, r)
	if !ok {
		return
	}
	id := pathVar(r, "id")
	if err := d.Notify.MarkRead(id); err != nil {
		if err == notify.ErrStatusRegression {
			d.audit(claims.UserID, "notify.mark_read", id, audit.ResultFailure, map[string]any{"reason": err.Error()})
			apierrors.Write(w, apierrors.NotifyStatusRegression, err.Error(), requestIDFrom(r), nil)
			return
		}
		d.audit(claims.UserID, "notify.mark_read", id, audit.ResultFailure, nil)
		apierrors.Write(w, apierrors.StorageNotFound, "notification not found", requestIDFrom(r), nil)
		return
	}
	d.audit(claims.UserID, "notify.mark_read", id, audit.ResultSuccess, nil)
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "read"})
}

type setPreferencesRequest struct {
	RecipientID string   `json:"recipientId"`
	Channels    []string `json:"channels"`
	QuietStart  int      `json:"quietStartMinute"`
	QuietEnd    int      `json:"quietEndMinute"`
	HasQuiet    bool     `json:"hasQuiet"`
}

func (d *Deps) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requireAuth(w, r)
	if !ok {
		return
	}
	var req setPreferencesRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	recipientID := req.RecipientID
	if recipientID == "" {
		recipientID = claims.UserID
	}
	channels := make([]notify.Channel, 0, len(req.Channels))
	for _, c := range req.Channels {
		channels = append(channels, notify.Channel(c))
	}
	prefs := notify.Preferences{Channels: channels}
	if req.HasQuiet {
		prefs.Quiet = &notify.QuietWindow{StartMinute: req.QuietStart, EndMinute: req.QuietEnd}
	}
	d.Notify.SetPreferences(recipientID, prefs)
	d.audit(claims.UserID, "notify.preferences.set", recipientID, audit.ResultSuccess, map[string]any{"channels": req.Channels})
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "saved"})
}
