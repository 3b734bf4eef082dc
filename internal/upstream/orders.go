package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/suitableit/smm-panel-backend/internal/db/models"
)

// OrderRequest carries the parameters for placing an order upstream.
// Only the fields the service type uses are sent.
type OrderRequest struct {
	ServiceID string
	Link      string
	Quantity  int
	Comments  string
}

// OrderStatus is the upstream view of a previously placed order.
type OrderStatus struct {
	Charge     FlexString `json:"charge"`
	StartCount FlexInt    `json:"start_count"`
	Status     FlexString `json:"status"`
	Remains    FlexInt    `json:"remains"`
	Currency   string     `json:"currency"`
}

// PlaceOrder submits an order and returns the upstream order id.
func (c *Client) PlaceOrder(ctx context.Context, p *models.Provider, req OrderRequest) (string, error) {
	params := map[string]string{
		"service":  req.ServiceID,
		"link":     req.Link,
		"quantity": fmt.Sprintf("%d", req.Quantity),
	}
	if req.Comments != "" {
		params["comments"] = req.Comments
	}

	body, err := c.call(ctx, p, p.AddOrderAction, p.AddOrderEndpoint, params)
	if err != nil {
		return "", err
	}

	var resp struct {
		Order FlexString `json:"order"`
		Error string     `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", NewError(KindUpstream, "Invalid response from provider", err)
	}
	if resp.Error != "" {
		return "", NewError(KindUpstream, resp.Error, nil)
	}
	if resp.Order == "" {
		return "", NewError(KindUpstream, "Provider did not return an order id", nil)
	}

	return string(resp.Order), nil
}

// GetOrderStatus fetches the status of one upstream order.
func (c *Client) GetOrderStatus(ctx context.Context, p *models.Provider, orderID string) (*OrderStatus, error) {
	body, err := c.call(ctx, p, p.StatusAction, p.StatusEndpoint, map[string]string{"order": orderID})
	if err != nil {
		return nil, err
	}

	var resp struct {
		OrderStatus
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewError(KindUpstream, "Invalid response from provider", err)
	}
	if resp.Error != "" {
		return nil, NewError(KindUpstream, resp.Error, nil)
	}

	return &resp.OrderStatus, nil
}

// RequestRefill asks the provider to refill an order and returns the
// refill task id.
func (c *Client) RequestRefill(ctx context.Context, p *models.Provider, orderID string) (string, error) {
	body, err := c.call(ctx, p, p.RefillAction, p.RefillEndpoint, map[string]string{"order": orderID})
	if err != nil {
		return "", err
	}

	var resp struct {
		Refill FlexString `json:"refill"`
		Error  string     `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", NewError(KindUpstream, "Invalid response from provider", err)
	}
	if resp.Error != "" {
		return "", NewError(KindUpstream, resp.Error, nil)
	}

	return string(resp.Refill), nil
}

// GetRefillStatus fetches the state of a refill task.
func (c *Client) GetRefillStatus(ctx context.Context, p *models.Provider, refillID string) (string, error) {
	body, err := c.call(ctx, p, p.RefillStatusAction, p.RefillStatusEndpoint, map[string]string{"refill": refillID})
	if err != nil {
		return "", err
	}

	var resp struct {
		Status FlexString `json:"status"`
		Error  string     `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", NewError(KindUpstream, "Invalid response from provider", err)
	}
	if resp.Error != "" {
		return "", NewError(KindUpstream, resp.Error, nil)
	}

	return string(resp.Status), nil
}

// CancelResult reports the outcome of a cancel request for one order.
type CancelResult struct {
	OrderID string
	Error   string
}

// CancelOrders requests cancellation of the given orders in one call,
// the way the panel API batches them.
func (c *Client) CancelOrders(ctx context.Context, p *models.Provider, orderIDs []string) ([]CancelResult, error) {
	body, err := c.call(ctx, p, p.CancelAction, p.CancelEndpoint, map[string]string{
		"orders": strings.Join(orderIDs, ","),
	})
	if err != nil {
		return nil, err
	}

	var entries []struct {
		Order  FlexString      `json:"order"`
		Cancel json.RawMessage `json:"cancel"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		// Single-order providers answer with a bare object.
		var single struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, NewError(KindUpstream, "Invalid response from provider", err)
		}
		if single.Error != "" {
			return nil, NewError(KindUpstream, single.Error, nil)
		}
		results := make([]CancelResult, 0, len(orderIDs))
		for _, id := range orderIDs {
			results = append(results, CancelResult{OrderID: id})
		}
		return results, nil
	}

	results := make([]CancelResult, 0, len(entries))
	for _, e := range entries {
		results = append(results, CancelResult{
			OrderID: string(e.Order),
			Error:   e.Error,
		})
	}
	return results, nil
}
