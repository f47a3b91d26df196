package andchangesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrMissingSlotID is returned before any request is made when a slot id
// is zero or negative.
var ErrMissingSlotID = errors.New("slot id required")

// invalidations maps each mutating operation to the cached path prefixes it
// stales. Mutations drop those entries so the next read refetches.
var invalidations = map[string][]string{
	"create-plan":      {"v0/action-plan/"},
	"update-plan":      {"v0/action-plan/"},
	"update-slot":      {"v0/action-plan/"},
	"generate-content": {"v0/action-plan/", "v0/content/"},
	"create-action":    {"v0/action/"},
}

// Client is a minimal AndChange HTTP API client with a read-through cache
// for GET responses.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration

	mu    sync.Mutex
	cache map[string][]byte
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Action represents a catalog action.
type Action struct {
	ID              int64  `json:"id"`
	OrgID           string `json:"organizationId"`
	Name            string `json:"name"`
	Category        string `json:"category,omitempty"`
	EntityType      string `json:"entityType"`
	Phase           string `json:"phase"`
	Medium          string `json:"medium"`
	WhoSender       string `json:"whoSender,omitempty"`
	WhoReceiver     string `json:"whoReceiver,omitempty"`
	WhoExecutor     string `json:"whoExecutor,omitempty"`
	CooldownDays    int    `json:"cooldownDays"`
	Shareable       bool   `json:"shareable"`
	Sprint          bool   `json:"sprint"`
	ContentTemplate string `json:"contentTemplate,omitempty"`
}

// Slot is one dated entry in an action plan.
type Slot struct {
	ID         int64  `json:"id"`
	AOID       string `json:"aoID"`
	SlotDate   string `json:"slotDate"`
	SlotState  string `json:"slotState"`
	ActionID   *int64 `json:"actionId,omitempty"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId,omitempty"`
	Category   string `json:"category,omitempty"`
}

// ActionPlan carries the plan manifests keyed by entity and ABSUP category.
type ActionPlan struct {
	ID            int64                        `json:"id"`
	ProjectID     string                       `json:"projectId"`
	State         string                       `json:"state"`
	Groups        map[string]map[string][]Slot `json:"impactGroupActionPlanSlotManifest"`
	MOPs          map[string]map[string][]Slot `json:"mopActionPlanSlotManifest"`
	Sponsors      map[string]map[string][]Slot `json:"sponsorActionPlanSlotManifest"`
	ProjectHealth map[string][]Slot            `json:"projectHealthActionPlanSlotManifest"`
	Hygiene       []Slot                       `json:"hygieneActionPlanSlotManifest"`
}

// DateRange bounds slot generation for one manifest cell.
type DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// CreatePlanRequest creates or regenerates a project's plan.
type CreatePlanRequest struct {
	ProjectID          string                          `json:"projectId"`
	AdditiveProcess    bool                            `json:"additiveProcess"`
	EntityDateRanges   map[string]map[string]DateRange `json:"entityDateRanges,omitempty"`
	ProjectHealthDates map[string]DateRange            `json:"projectHealthDateRanges,omitempty"`
	HygieneDates       *DateRange                      `json:"hygieneDateRange,omitempty"`
}

// SlotUpdate changes one slot's date, state, or action.
type SlotUpdate struct {
	ID        int64  `json:"id"`
	SlotDate  string `json:"slotDate,omitempty"`
	SlotState string `json:"slotState,omitempty"`
	ActionID  *int64 `json:"actionId,omitempty"`
}

// UpdatePlanRequest applies several slot updates in one call.
type UpdatePlanRequest struct {
	ID    int64        `json:"id"`
	Slots []SlotUpdate `json:"slots"`
}

// ContentRecord is one immutable generated content entry.
type ContentRecord struct {
	ID     int64  `json:"id"`
	SlotID int64  `json:"slotId"`
	Text   string `json:"text"`
}

// SlotContent groups stored records per slot.
type SlotContent struct {
	SlotID  int64           `json:"slotId"`
	Records []ContentRecord `json:"records"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ActionsForOrganization lists the org's catalog actions.
func (c *Client) ActionsForOrganization(ctx context.Context, orgID string) ([]Action, error) {
	var resp []Action
	endpoint := fmt.Sprintf("v0/action/actions-for-organization?organization-id=%s", url.QueryEscape(orgID))
	err := c.getCached(ctx, endpoint, &resp)
	return resp, err
}

// Action fetches one catalog action.
func (c *Client) Action(ctx context.Context, id int64) (Action, error) {
	var resp Action
	err := c.getCached(ctx, fmt.Sprintf("v0/action/%d", id), &resp)
	return resp, err
}

// CreateAction adds a catalog action.
func (c *Client) CreateAction(ctx context.Context, a Action) (Action, error) {
	var resp Action
	err := c.do(ctx, http.MethodPost, "v0/action", a, &resp)
	if err == nil {
		c.invalidate("create-action")
	}
	return resp, err
}

// PlanByID fetches a plan by id.
func (c *Client) PlanByID(ctx context.Context, id int64) (*ActionPlan, error) {
	var resp ActionPlan
	if err := c.getCached(ctx, fmt.Sprintf("v0/action-plan/ap/%d", id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PlanByProject fetches the project's plan. A 404 means the project has no
// plan yet and returns (nil, nil) rather than an error.
func (c *Client) PlanByProject(ctx context.Context, projectID string) (*ActionPlan, error) {
	var resp ActionPlan
	endpoint := fmt.Sprintf("v0/action-plan/ap-by-project?project-id=%s", url.QueryEscape(projectID))
	err := c.getCached(ctx, endpoint, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreatePlan creates or regenerates a project's plan.
func (c *Client) CreatePlan(ctx context.Context, req CreatePlanRequest) (ActionPlan, error) {
	var resp ActionPlan
	err := c.do(ctx, http.MethodPost, "v0/action-plan/ap", req, &resp)
	if err == nil {
		c.invalidate("create-plan")
	}
	return resp, err
}

// UpdatePlan applies slot updates in one call.
func (c *Client) UpdatePlan(ctx context.Context, req UpdatePlanRequest) (ActionPlan, error) {
	var resp ActionPlan
	err := c.do(ctx, http.MethodPut, "v0/action-plan/ap", req, &resp)
	if err == nil {
		c.invalidate("update-plan")
	}
	return resp, err
}

// Slot fetches one slot.
func (c *Client) Slot(ctx context.Context, id int64) (Slot, error) {
	var resp Slot
	if id <= 0 {
		return resp, ErrMissingSlotID
	}
	err := c.getCached(ctx, fmt.Sprintf("v0/action-plan/ap/entity-slot/%d", id), &resp)
	return resp, err
}

// UpdateSlot changes one slot.
func (c *Client) UpdateSlot(ctx context.Context, upd SlotUpdate) (Slot, error) {
	var resp Slot
	if upd.ID <= 0 {
		return resp, ErrMissingSlotID
	}
	err := c.do(ctx, http.MethodPut, "v0/action-plan/ap/update-action-plan-entity-slot", upd, &resp)
	if err == nil {
		c.invalidate("update-slot")
	}
	return resp, err
}

// SlotOptions lists the catalog actions eligible for a slot.
func (c *Client) SlotOptions(ctx context.Context, slotID int64) ([]Action, error) {
	if slotID <= 0 {
		return nil, ErrMissingSlotID
	}
	var resp []Action
	err := c.getCached(ctx, fmt.Sprintf("v0/action-plan/ap/entity-slot-action-options/%d", slotID), &resp)
	return resp, err
}

// GenerateContent generates content for accepted slots. Every slot id is
// checked before anything is sent; one bad id fails the whole call without
// a network request.
func (c *Client) GenerateContent(ctx context.Context, slotIDs []int64) ([]ContentRecord, error) {
	if len(slotIDs) == 0 {
		return nil, ErrMissingSlotID
	}
	for _, id := range slotIDs {
		if id <= 0 {
			return nil, ErrMissingSlotID
		}
	}
	var resp []ContentRecord
	err := c.do(ctx, http.MethodPost, "v0/content/generate-content-for-action-plan-item", map[string]any{"slotIds": slotIDs}, &resp)
	if err == nil {
		c.invalidate("generate-content")
	}
	return resp, err
}

// ContentForSlots returns the stored content records for the given slots.
func (c *Client) ContentForSlots(ctx context.Context, slotIDs []int64) ([]SlotContent, error) {
	var resp []SlotContent
	err := c.do(ctx, http.MethodPost, "v0/content/content-for-action-plan-items", map[string]any{"slotIds": slotIDs}, &resp)
	return resp, err
}

// getCached serves GETs from the cache when present; mutations clear the
// relevant prefixes via invalidate.
func (c *Client) getCached(ctx context.Context, endpoint string, out any) error {
	c.mu.Lock()
	cached, ok := c.cache[endpoint]
	c.mu.Unlock()
	if ok {
		return json.Unmarshal(cached, out)
	}
	raw, err := c.doRaw(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.cache == nil {
		c.cache = map[string][]byte{}
	}
	c.cache[endpoint] = raw
	c.mu.Unlock()
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func (c *Client) invalidate(op string) {
	prefixes := invalidations[op]
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.cache {
		for _, prefix := range prefixes {
			if strings.HasPrefix(key, prefix) {
				delete(c.cache, key)
				break
			}
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	raw, err := c.doRaw(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if out != nil && len(raw) > 0 {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
