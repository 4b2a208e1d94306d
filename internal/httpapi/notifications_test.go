package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/lastmile/courier-core/internal/access"
)

func TestSendNotificationAnyAuthenticatedCaller(t *testing.T) {
	d := newTestDeps(t)
	body := `{"recipientId":"cust-1","channel":"push","templateId":"delivery_arriving","content":{"eta":"5m"},"priority":"normal"}`
	r := withAuth(newRequest(t, http.MethodPost, "/api/v1/notifications", strings.NewReader(body)), t, d, "system-1", access.RoleSystem)
	w := doRequest(d, r)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSendNotificationRejectsInvalidChannel(t *testing.T) {
	d := newTestDeps(t)
	body := `{"recipientId":"cust-1","channel":"carrier_pigeon","templateId":"t"}`
	r := withAuth(newRequest(t, http.MethodPost, "/api/v1/notifications", strings.NewReader(body)), t, d, "system-1", access.RoleSystem)
	w := doRequest(d, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListNotificationsDefaultsToCallersOwnID(t *testing.T) {
	d := newTestDeps(t)
	sendReq := withAuth(newRequest(t, http.MethodPost, "/api/v1/notifications", strings.NewReader(`{"recipientId":"cust-2","channel":"sms","templateId":"t"}`)), t, d, "system-1", access.RoleSystem)
	doRequest(d, sendReq)

	listReq := withAuth(newRequest(t, http.MethodGet, "/api/v1/notifications", nil), t, d, "cust-2", access.RoleCustomer)
	listResp := doRequest(d, listReq)
	if listResp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", listResp.Code, listResp.Body.String())
	}

	var envelope struct {
		Data []struct {
			ID string `json:"ID"`
		} `json:"data"`
	}
	if err := json.Unmarshal(listResp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data) != 1 {
		t.Fatalf("expected exactly one notification for cust-2, got %d", len(envelope.Data))
	}
}

func TestMarkDeliveredAndReadRoundTrip(t *testing.T) {
	d := newTestDeps(t)
	sendReq := withAuth(newRequest(t, http.MethodPost, "/api/v1/notifications", strings.NewReader(`{"recipientId":"cust-3","channel":"email","templateId":"t"}`)), t, d, "system-1", access.RoleSystem)
	sendResp := doRequest(d, sendReq)

	var envelope struct {
		Data struct {
			ID string `json:"ID"`
		} `json:"data"`
	}
	if err := json.Unmarshal(sendResp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode send response: %v", err)
	}

	deliveredReq := withAuth(newRequest(t, http.MethodPost, "/api/v1/notifications/"+envelope.Data.ID+"/delivered", nil), t, d, "cust-3", access.RoleCustomer)
	deliveredResp := doRequest(d, deliveredReq)
	if deliveredResp.Code != http.StatusOK {
		t.Fatalf("mark delivered: expected 200, got %d: %s", deliveredResp.Code, deliveredResp.Body.String())
	}

	readReq := withAuth(newRequest(t, http.MethodPost, "/api/v1/notifications/"+envelope.Data.ID+"/read", nil), t, d, "cust-3", access.RoleCustomer)
	readResp := doRequest(d, readReq)
	if readResp.Code != http.StatusOK {
		t.Fatalf("mark read: expected 200, got %d: %s", readResp.Code, readResp.Body.String())
	}
}

func TestMarkDeliveredUnknownIDReturns404(t *testing.T) {
	d := newTestDeps(t)
	r := withAuth(newRequest(t, http.MethodPost, "/api/v1/notifications/does-not-exist/delivered", nil), t, d, "cust-1", access.RoleCustomer)
	w := doRequest(d, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSetPreferencesThenQuietHoursBlocksNormalSend(t *testing.T) {
	d := newTestDeps(t)
	prefsReq := withAuth(newRequest(t, http.MethodPost, "/api/v1/notifications/preferences", strings.NewReader(`{"channels":["sms"],"hasQuiet":true,"quietStartMinute":0,"quietEndMinute":1440}`)), t, d, "cust-4", access.RoleCustomer)
	prefsResp := doRequest(d, prefsReq)
	if prefsResp.Code != http.StatusOK {
		t.Fatalf("set preferences: expected 200, got %d: %s", prefsResp.Code, prefsResp.Body.String())
	}

	sendReq := withAuth(newRequest(t, http.MethodPost, "/api/v1/notifications", strings.NewReader(`{"recipientId":"cust-4","channel":"sms","templateId":"t","priority":"normal"}`)), t, d, "system-1", access.RoleSystem)
	sendResp := doRequest(d, sendReq)
	if sendResp.Code != http.StatusBadRequest {
		t.Fatalf("expected quiet hours to block the send with 400, got %d: %s", sendResp.Code, sendResp.Body.String())
	}
}
