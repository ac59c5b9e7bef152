package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/billgate/billgate/pkg/jsonapi"
	"github.com/billgate/billgate/ports"
)

// LemonSqueezyConfig holds LemonSqueezy configuration.
type LemonSqueezyConfig struct {
	APIKey        string
	StoreID       string
	WebhookSecret string
	RedirectURL   string
}

// LemonSqueezyProvider implements ports.PaymentProvider for LemonSqueezy.
type LemonSqueezyProvider struct {
	config     LemonSqueezyConfig
	httpClient *http.Client
	baseURL    string
}

// NewLemonSqueezyProvider creates a new LemonSqueezy payment provider.
func NewLemonSqueezyProvider(config LemonSqueezyConfig) *LemonSqueezyProvider {
	return &LemonSqueezyProvider{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.lemonsqueezy.com/v1",
	}
}

// Name returns the provider name.
func (p *LemonSqueezyProvider) Name() string {
	return "lemonsqueezy"
}

// VerifyWebhook checks the X-Signature HMAC-SHA256 hex digest over the
// raw request body.
func (p *LemonSqueezyProvider) VerifyWebhook(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, []byte(p.config.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return errors.New("invalid webhook signature")
	}
	return nil
}

// GetSubscription retrieves the provider's view of a subscription.
func (p *LemonSqueezyProvider) GetSubscription(ctx context.Context, externalID string) (ports.ProviderSubscription, error) {
	resp, err := p.doRequest(ctx, "GET", "/subscriptions/"+externalID, nil)
	if err != nil {
		return ports.ProviderSubscription{}, err
	}

	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		return ports.ProviderSubscription{}, errors.New("invalid response format")
	}
	attrs, ok := data["attributes"].(map[string]interface{})
	if !ok {
		return ports.ProviderSubscription{}, errors.New("invalid response format")
	}

	sub := ports.ProviderSubscription{ExternalID: externalID}
	if status, ok := attrs["status"].(string); ok {
		sub.Status = status
	}
	if variant, ok := attrs["variant_id"].(float64); ok {
		sub.VariantID = fmt.Sprintf("%.0f", variant)
	}
	sub.RenewsAt = parseLemonTime(attrs["renews_at"])
	sub.EndsAt = parseLemonTime(attrs["ends_at"])

	return sub, nil
}

// ReportUsage posts a usage record against a subscription item.
func (p *LemonSqueezyProvider) ReportUsage(ctx context.Context, subscriptionItemID string, quantity int64, at time.Time) error {
	record := jsonapi.NewResource("usage-records", "").
		Attr("quantity", quantity).
		BelongsTo("subscription-item", "subscription-items", subscriptionItemID).
		Build()

	payload := jsonapi.NewDocument().DataResource(record).Build()

	_, err := p.doRequest(ctx, "POST", "/usage-records", payload)
	return err
}

// GetUsage sums provider-recorded usage quantities for a subscription
// item over [start, end).
func (p *LemonSqueezyProvider) GetUsage(ctx context.Context, subscriptionItemID string, start, end time.Time) (int64, error) {
	endpoint := "/usage-records?filter[subscription_item_id]=" + url.QueryEscape(subscriptionItemID)

	var total int64
	for endpoint != "" {
		resp, err := p.doRequest(ctx, "GET", endpoint, nil)
		if err != nil {
			return 0, err
		}

		records, ok := resp["data"].([]interface{})
		if !ok {
			return 0, errors.New("invalid response format")
		}
		for _, r := range records {
			rec, ok := r.(map[string]interface{})
			if !ok {
				continue
			}
			attrs, ok := rec["attributes"].(map[string]interface{})
			if !ok {
				continue
			}
			created := parseLemonTime(attrs["created_at"])
			if created == nil || created.Before(start) || !created.Before(end) {
				continue
			}
			if q, ok := attrs["quantity"].(float64); ok {
				total += int64(q)
			}
		}

		endpoint = nextPageEndpoint(resp, p.baseURL)
	}

	return total, nil
}

// CreateCheckoutSession creates a checkout with the account id embedded
// in the custom data, so the subscription_created webhook can resolve
// the purchasing account.
func (p *LemonSqueezyProvider) CreateCheckoutSession(ctx context.Context, accountID, variantID string) (string, error) {
	checkout := jsonapi.NewResource("checkouts", "").
		Attr("checkout_data", map[string]interface{}{
			"custom": map[string]string{
				"user_id": accountID,
			},
		}).
		Attr("product_options", map[string]interface{}{
			"redirect_url": p.config.RedirectURL,
		}).
		BelongsTo("store", "stores", p.config.StoreID).
		BelongsTo("variant", "variants", variantID).
		Build()

	payload := jsonapi.NewDocument().DataResource(checkout).Build()

	resp, err := p.doRequest(ctx, "POST", "/checkouts", payload)
	if err != nil {
		return "", err
	}

	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("invalid response format")
	}
	attrs, ok := data["attributes"].(map[string]interface{})
	if !ok {
		return "", errors.New("invalid response format")
	}
	if checkoutURL, ok := attrs["url"].(string); ok {
		return checkoutURL, nil
	}
	return "", errors.New("failed to create checkout")
}

// CreatePortalSession returns the customer portal URL for a
// subscription. LemonSqueezy exposes signed portal URLs on the
// subscription resource itself.
func (p *LemonSqueezyProvider) CreatePortalSession(ctx context.Context, externalID string) (string, error) {
	resp, err := p.doRequest(ctx, "GET", "/subscriptions/"+externalID, nil)
	if err != nil {
		return "", err
	}

	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("invalid response format")
	}
	attrs, ok := data["attributes"].(map[string]interface{})
	if !ok {
		return "", errors.New("invalid response format")
	}
	urls, ok := attrs["urls"].(map[string]interface{})
	if !ok {
		return "", errors.New("invalid response format")
	}
	if portal, ok := urls["customer_portal"].(string); ok && portal != "" {
		return portal, nil
	}
	return "", errors.New("no customer portal URL on subscription")
}

func (p *LemonSqueezyProvider) doRequest(ctx context.Context, method, endpoint string, payload interface{}) (map[string]interface{}, error) {
	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	req.Header.Set("Accept", jsonapi.ContentType)
	req.Header.Set("Content-Type", jsonapi.ContentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("LemonSqueezy API error: %s", string(respBody))
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}

	return result, nil
}

// nextPageEndpoint extracts the JSON:API next-page link, relative to
// the API base URL. Empty when there is no next page.
func nextPageEndpoint(resp map[string]interface{}, baseURL string) string {
	links, ok := resp["links"].(map[string]interface{})
	if !ok {
		return ""
	}
	next, ok := links["next"].(string)
	if !ok || next == "" {
		return ""
	}
	if len(next) > len(baseURL) && next[:len(baseURL)] == baseURL {
		return next[len(baseURL):]
	}
	return ""
}

func parseLemonTime(v interface{}) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}
