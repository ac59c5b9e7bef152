package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestLemonSqueezyProvider_Name(t *testing.T) {
	provider := &LemonSqueezyProvider{}

	if provider.Name() != "lemonsqueezy" {
		t.Errorf("Name() = %s, want lemonsqueezy", provider.Name())
	}
}

func TestLemonSqueezyProvider_VerifyWebhook(t *testing.T) {
	provider := NewLemonSqueezyProvider(LemonSqueezyConfig{WebhookSecret: "whsec"})
	body := []byte(`{"meta":{"event_name":"subscription_created"}}`)

	if err := provider.VerifyWebhook(body, signBody("whsec", body)); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}

	if err := provider.VerifyWebhook(body, signBody("wrong", body)); err == nil {
		t.Error("expected error for signature under wrong secret")
	}

	if err := provider.VerifyWebhook(body, ""); err == nil {
		t.Error("expected error for empty signature")
	}

	tampered := append([]byte(nil), body...)
	tampered[0] = ' '
	if err := provider.VerifyWebhook(tampered, signBody("whsec", body)); err == nil {
		t.Error("expected error for tampered body")
	}
}

func TestLemonSqueezyProvider_GetSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/subscriptions/sub_123" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer api_key_123" {
			t.Error("missing or incorrect Authorization header")
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"id": "sub_123",
				"attributes": map[string]interface{}{
					"status":     "active",
					"variant_id": 889900,
					"renews_at":  "2026-02-01T00:00:00Z",
					"ends_at":    nil,
				},
			},
		})
	}))
	defer server.Close()

	provider := NewLemonSqueezyProvider(LemonSqueezyConfig{APIKey: "api_key_123"})
	provider.baseURL = server.URL

	sub, err := provider.GetSubscription(context.Background(), "sub_123")
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}

	if sub.ExternalID != "sub_123" {
		t.Errorf("ExternalID = %s, want sub_123", sub.ExternalID)
	}
	if sub.Status != "active" {
		t.Errorf("Status = %s, want active", sub.Status)
	}
	if sub.VariantID != "889900" {
		t.Errorf("VariantID = %s, want 889900", sub.VariantID)
	}
	if sub.RenewsAt == nil || !sub.RenewsAt.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("RenewsAt = %v, want 2026-02-01", sub.RenewsAt)
	}
	if sub.EndsAt != nil {
		t.Errorf("EndsAt = %v, want nil", sub.EndsAt)
	}
}

func TestLemonSqueezyProvider_ReportUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/usage-records" || r.Method != "POST" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var reqBody map[string]interface{}
		json.NewDecoder(r.Body).Decode(&reqBody)

		data := reqBody["data"].(map[string]interface{})
		if data["type"] != "usage-records" {
			t.Errorf("type = %v, want usage-records", data["type"])
		}
		attrs := data["attributes"].(map[string]interface{})
		if attrs["quantity"].(float64) != 42 {
			t.Errorf("quantity = %v, want 42", attrs["quantity"])
		}
		rels := data["relationships"].(map[string]interface{})
		item := rels["subscription-item"].(map[string]interface{})["data"].(map[string]interface{})
		if item["id"] != "item_77" {
			t.Errorf("subscription-item id = %v, want item_77", item["id"])
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"id": "ur_1"}})
	}))
	defer server.Close()

	provider := NewLemonSqueezyProvider(LemonSqueezyConfig{APIKey: "k"})
	provider.baseURL = server.URL

	err := provider.ReportUsage(context.Background(), "item_77", 42, time.Now())
	if err != nil {
		t.Fatalf("ReportUsage: %v", err)
	}
}

func TestLemonSqueezyProvider_ReportUsage_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"detail":"not a usage-based subscription"}]}`))
	}))
	defer server.Close()

	provider := NewLemonSqueezyProvider(LemonSqueezyConfig{APIKey: "k"})
	provider.baseURL = server.URL

	if err := provider.ReportUsage(context.Background(), "item_77", 1, time.Now()); err == nil {
		t.Error("expected error from 422 response")
	}
}

func TestLemonSqueezyProvider_GetUsage(t *testing.T) {
	record := func(created string, qty int) map[string]interface{} {
		return map[string]interface{}{
			"attributes": map[string]interface{}{
				"created_at": created,
				"quantity":   qty,
			},
		}
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("filter[subscription_item_id]"); got != "item_77" {
			t.Errorf("filter = %s, want item_77", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []interface{}{
				record("2026-01-05T10:00:00Z", 10), // before window
				record("2026-01-10T00:00:00Z", 7),  // window start, inclusive
				record("2026-01-15T12:00:00Z", 5),
				record("2026-02-01T00:00:00Z", 9), // window end, exclusive
			},
		})
	}))
	defer server.Close()

	provider := NewLemonSqueezyProvider(LemonSqueezyConfig{APIKey: "k"})
	provider.baseURL = server.URL

	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	total, err := provider.GetUsage(context.Background(), "item_77", start, end)
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if total != 12 {
		t.Errorf("total = %d, want 12", total)
	}
}

func TestLemonSqueezyProvider_GetUsage_Paginated(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{
					"attributes": map[string]interface{}{
						"created_at": "2026-01-15T00:00:00Z",
						"quantity":   3,
					},
				},
			},
		}
		if r.URL.Query().Get("page[number]") == "" {
			resp["links"] = map[string]interface{}{
				"next": server.URL + "/usage-records?filter[subscription_item_id]=item_77&page[number]=2",
			}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	provider := NewLemonSqueezyProvider(LemonSqueezyConfig{APIKey: "k"})
	provider.baseURL = server.URL

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	total, err := provider.GetUsage(context.Background(), "item_77", start, end)
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if total != 6 {
		t.Errorf("total = %d, want 6 (both pages)", total)
	}
}

func TestLemonSqueezyProvider_CreateCheckoutSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkouts" || r.Method != "POST" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var reqBody map[string]interface{}
		json.NewDecoder(r.Body).Decode(&reqBody)

		data := reqBody["data"].(map[string]interface{})
		attrs := data["attributes"].(map[string]interface{})
		custom := attrs["checkout_data"].(map[string]interface{})["custom"].(map[string]interface{})
		if custom["user_id"] != "acct_1" {
			t.Errorf("custom user_id = %v, want acct_1", custom["user_id"])
		}

		rels := data["relationships"].(map[string]interface{})
		variant := rels["variant"].(map[string]interface{})["data"].(map[string]interface{})
		if variant["id"] != "889900" {
			t.Errorf("variant id = %v, want 889900", variant["id"])
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"attributes": map[string]interface{}{
					"url": "https://store.lemonsqueezy.com/checkout/abc",
				},
			},
		})
	}))
	defer server.Close()

	provider := NewLemonSqueezyProvider(LemonSqueezyConfig{APIKey: "k", StoreID: "store_1"})
	provider.baseURL = server.URL

	checkoutURL, err := provider.CreateCheckoutSession(context.Background(), "acct_1", "889900")
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if checkoutURL != "https://store.lemonsqueezy.com/checkout/abc" {
		t.Errorf("url = %s", checkoutURL)
	}
}

func TestLemonSqueezyProvider_CreatePortalSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"attributes": map[string]interface{}{
					"urls": map[string]interface{}{
						"customer_portal": "https://store.lemonsqueezy.com/billing?signed",
					},
				},
			},
		})
	}))
	defer server.Close()

	provider := NewLemonSqueezyProvider(LemonSqueezyConfig{APIKey: "k"})
	provider.baseURL = server.URL

	portalURL, err := provider.CreatePortalSession(context.Background(), "sub_123")
	if err != nil {
		t.Fatalf("CreatePortalSession: %v", err)
	}
	if portalURL != "https://store.lemonsqueezy.com/billing?signed" {
		t.Errorf("url = %s", portalURL)
	}
}
