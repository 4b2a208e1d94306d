package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/lastmile/courier-core/internal/access"
	"github.com/lastmile/courier-core/internal/apierrors"
	"github.com/lastmile/courier-core/internal/audit"
	"github.com/lastmile/courier-core/internal/geo"
	"github.com/lastmile/courier-core/internal/verify"
)

type initVerificationRequest struct {
	Required []string `json:"required"`
}

func (d *Deps) handleInitVerification(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("write", "delivery_assignment"))
	if !ok {
		return
	}
	deliveryID := pathVar(r, "deliveryId")
	var req initVerificationRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	methods := make([]verify.Method, 0, len(req.Required))
	for _, m := range req.Required {
		methods = append(methods, verify.Method(m))
	}
	d.Verifier.Initialize(deliveryID, methods)
	d.audit(claims.UserID, "verification.init", deliveryID, audit.ResultSuccess, map[string]any{"required": req.Required})
	writeJSON(w, r, http.StatusCreated, map[string]string{"status": "initialized"})
}

func (d *Deps) handleVerificationStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := d.requireAuth(w, r); !ok {
		return
	}
	status, ok := d.Verifier.Status(pathVar(r, "deliveryId"))
	if !ok {
		apierrors.Write(w, apierrors.DeliveryNotFound, "delivery not initialized for verification", requestIDFrom(r), nil)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

type generateOTPRequest struct {
	RecipientID string `json:"recipientId"`
}

func (d *Deps) handleGenerateOTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("write", "delivery_status"))
	if !ok {
		return
	}
	deliveryID := pathVar(r, "deliveryId")
	var req generateOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	code, expiresAt, err := d.Verifier.GenerateOTP(deliveryID, req.RecipientID)
	if err != nil {
		d.audit(claims.UserID, "verification.otp.generate", deliveryID, audit.ResultFailure, map[string]any{"recipientId": req.RecipientID})
		apierrors.Write(w, apierrors.Internal, "otp generation failed", requestIDFrom(r), nil)
		return
	}
	d.audit(claims.UserID, "verification.otp.generate", deliveryID, audit.ResultSuccess, map[string]any{"recipientId": req.RecipientID})
	writeJSON(w, r, http.StatusOK, map[string]any{"code": code, "expiresAt": expiresAt})
}

type confirmOTPRequest struct {
	Token string `json:"token"`
}

func (d *Deps) handleConfirmOTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requireAuth(w, r)
	if !ok {
		return
	}
	deliveryID := pathVar(r, "deliveryId")
	var req confirmOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	res := d.Verifier.VerifyOTP(deliveryID, req.Token)
	if !res.Valid {
		d.audit(claims.UserID, "verification.otp.confirm", deliveryID, audit.ResultFailure, map[string]any{"reason": string(res.Reason)})
		apierrors.Write(w, apierrors.VerificationCodeInvalid, string(res.Reason), requestIDFrom(r), map[string]any{"remaining": res.Remaining})
		return
	}
	d.audit(claims.UserID, "verification.otp.confirm", deliveryID, audit.ResultSuccess, nil)
	writeJSON(w, r, http.StatusOK, res)
}

type storePhotoRequest struct {
	DataBase64 string `json:"dataBase64"`
	Mime       string `json:"mime"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

func (d *Deps) handleStorePhoto(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("write", "delivery_status"))
	if !ok {
		return
	}
	deliveryID := pathVar(r, "deliveryId")
	var req storePhotoRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "photo data must be base64", requestIDFrom(r), nil)
		return
	}
	err = d.Verifier.StorePhoto(deliveryID, data, verify.PhotoMeta{Mime: req.Mime, Width: req.Width, Height: req.Height})
	if err != nil {
		d.audit(claims.UserID, "verification.photo.store", deliveryID, audit.ResultFailure, nil)
		apierrors.Write(w, apierrors.ValidationOutOfRange, err.Error(), requestIDFrom(r), nil)
		return
	}
	d.audit(claims.UserID, "verification.photo.store", deliveryID, audit.ResultSuccess, nil)
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "stored"})
}

type storeSignatureRequest struct {
	DataBase64 string `json:"dataBase64"`
	SignerName string `json:"signerName"`
}

func (d *Deps) handleStoreSignature(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("write", "delivery_status"))
	if !ok {
		return
	}
	deliveryID := pathVar(r, "deliveryId")
	var req storeSignatureRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "signature data must be base64", requestIDFrom(r), nil)
		return
	}
	if err := d.Verifier.StoreSignature(deliveryID, data, req.SignerName); err != nil {
		d.audit(claims.UserID, "verification.signature.store", deliveryID, audit.ResultFailure, nil)
		apierrors.Write(w, apierrors.Internal, "signature storage failed", requestIDFrom(r), nil)
		return
	}
	hash, _ := d.Verifier.SignatureHash(deliveryID)
	d.audit(claims.UserID, "verification.signature.store", deliveryID, audit.ResultSuccess, nil)
	writeJSON(w, r, http.StatusOK, map[string]string{"hash": hash})
}

type verifyGeofenceRequest struct {
	DriverLat   float64 `json:"driverLat"`
	DriverLng   float64 `json:"driverLng"`
	DeliveryLat float64 `json:"deliveryLat"`
	DeliveryLng float64 `json:"deliveryLng"`
	RadiusM     float64 `json:"radiusMeters"`
}

func (d *Deps) handleVerifyGeofence(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("write", "delivery_status"))
	if !ok {
		return
	}
	deliveryID := pathVar(r, "deliveryId")
	var req verifyGeofenceRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	radius := req.RadiusM
	if radius <= 0 {
		radius = d.GeofenceRadiusMeters
	}
	within, dist := d.Verifier.VerifyGeofence(deliveryID,
		geo.Point{Lat: req.DriverLat, Lng: req.DriverLng},
		geo.Point{Lat: req.DeliveryLat, Lng: req.DeliveryLng}, radius)
	d.audit(claims.UserID, "verification.geofence", deliveryID, audit.ResultSuccess, map[string]any{"withinGeofence": within})
	writeJSON(w, r, http.StatusOK, map[string]any{"withinGeofence": within, "distanceMeters": dist})
}

type verifyFallbackRequest struct {
	Code string `json:"code"`
}

func (d *Deps) handleVerifyFallback(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requireAuth(w, r)
	if !ok {
		return
	}
	deliveryID := pathVar(r, "deliveryId")
	var req verifyFallbackRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	if !d.Verifier.Fallback(deliveryID, req.Code) {
		d.audit(claims.UserID, "verification.fallback", deliveryID, audit.ResultFailure, nil)
		apierrors.Write(w, apierrors.HandoffCodeInvalid, "fallback code invalid", requestIDFrom(r), nil)
		return
	}
	d.audit(claims.UserID, "verification.fallback", deliveryID, audit.ResultSuccess, nil)
	writeJSON(w, r, http.StatusOK, map[string]bool{"verified": true})
}
