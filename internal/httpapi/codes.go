package httpapi

import (
	"net/http"
	"time"

	"github.com/lastmile/courier-core/internal/access"
	"github.com/lastmile/courier-core/internal/apierrors"
	"github.com/lastmile/courier-core/internal/audit"
	"github.com/lastmile/courier-core/internal/codes"
)

type generateCodeRequest struct {
	UserID string `json:"userId"`
	Theme  string `json:"theme"`
	TTLSec int    `json:"ttlSeconds"`
}

func (d *Deps) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("write", "delivery_assignment"))
	if !ok {
		return
	}
	deliveryID := pathVar(r, "deliveryId")

	var req generateCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = claims.UserID
	}

	c := codes.Generate(d.CodesSecret, deliveryID, userID, req.Theme, time.Duration(req.TTLSec)*time.Second)
	d.audit(claims.UserID, "codes.generate", deliveryID, audit.ResultSuccess, map[string]any{"userId": userID, "theme": req.Theme})
	writeJSON(w, r, http.StatusOK, c)
}

type validateCodeRequest struct {
	UserID string `json:"userId"`
	Theme  string `json:"theme"`
	Value  string `json:"value"`
}

func (d *Deps) handleValidateCode(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requireAuth(w, r)
	if !ok {
		return
	}
	deliveryID := pathVar(r, "deliveryId")

	var req validateCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}

	expected := codes.Generate(d.CodesSecret, deliveryID, req.UserID, req.Theme, 0)
	if !codes.Validate(req.Value, expected.Value) {
		d.audit(claims.UserID, "codes.validate", deliveryID, audit.ResultFailure, map[string]any{"userId": req.UserID})
		apierrors.Write(w, apierrors.HandoffCodeInvalid, "hand-off code does not match", requestIDFrom(r), nil)
		return
	}
	d.audit(claims.UserID, "codes.validate", deliveryID, audit.ResultSuccess, map[string]any{"userId": req.UserID})
	writeJSON(w, r, http.StatusOK, map[string]bool{"valid": true})
}
