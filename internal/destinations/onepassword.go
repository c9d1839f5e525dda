package destinations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/secretops/secretops/internal/logging"
	"github.com/secretops/secretops/pkg/destination"
)

// Credential and config keys understood by the 1Password adapter.
// Credentials come from the connection layer; config is the
// destination addressing stored on the sync.
const (
	opCredHost     = "host"
	opCredToken    = "token"
	opConfigVault  = "vault_id"
	opConfigLabel  = "value_label"
	opDefaultLabel = "value"
)

// itemCategory is the only 1Password item category the sync owns.
// Items of other categories (logins, documents) are invisible to it.
const opItemCategory = "API_CREDENTIAL"

// OnePasswordAdapter reads and writes items through a 1Password
// Connect server.
type OnePasswordAdapter struct {
	httpClient *http.Client
	logger     *logging.Logger
}

// NewOnePasswordAdapter creates the adapter with a default HTTP
// client.
func NewOnePasswordAdapter(logger *logging.Logger) *OnePasswordAdapter {
	return &OnePasswordAdapter{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.Named("1password"),
	}
}

func (a *OnePasswordAdapter) Type() string {
	return TypeOnePassword
}

type opField struct {
	ID      string `json:"id,omitempty"`
	Label   string `json:"label,omitempty"`
	Type    string `json:"type,omitempty"`
	Purpose string `json:"purpose,omitempty"`
	Value   string `json:"value,omitempty"`
}

type opItem struct {
	ID       string    `json:"id,omitempty"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	Vault    opVault   `json:"vault"`
	Fields   []opField `json:"fields,omitempty"`
}

type opVault struct {
	ID string `json:"id"`
}

// valueLabel returns the label of the field this sync manages.
func valueLabel(cfg destination.Config) string {
	if label := cfg[opConfigLabel]; label != "" {
		return label
	}
	return opDefaultLabel
}

// ListItems lists all items in the vault, fetching each item's detail
// for its field values. Duplicate titles are reported, first
// occurrence winning as canonical.
func (a *OnePasswordAdapter) ListItems(ctx context.Context, creds destination.Credentials, cfg destination.Config) (destination.ListResult, error) {
	vaultID := cfg[opConfigVault]

	var summaries []opItem
	if err := a.do(ctx, creds, http.MethodGet, fmt.Sprintf("/v1/vaults/%s/items", vaultID), nil, &summaries); err != nil {
		return destination.ListResult{}, err
	}

	label := valueLabel(cfg)
	result := destination.ListResult{
		Items:      make(map[string]destination.Item),
		Duplicates: make(map[string]string),
	}

	for _, summary := range summaries {
		if summary.Category != opItemCategory {
			continue
		}
		if _, seen := result.Items[summary.Title]; seen {
			result.Duplicates[summary.ID] = summary.Title
			continue
		}

		// The list response has no fields; fetch the detail.
		var detail opItem
		path := fmt.Sprintf("/v1/vaults/%s/items/%s", vaultID, summary.ID)
		if err := a.do(ctx, creds, http.MethodGet, path, nil, &detail); err != nil {
			return destination.ListResult{}, err
		}

		item := destination.Item{
			RemoteItem: destination.RemoteItem{
				ID:          detail.ID,
				Key:         detail.Title,
				OtherFields: make(map[string]string),
			},
		}
		for _, field := range detail.Fields {
			if field.Label == label {
				item.FieldID = field.ID
				item.Value = field.Value
				continue
			}
			if field.ID != "" {
				item.OtherFields[field.ID] = field.Value
			}
		}
		result.Items[detail.Title] = item
	}
	return result, nil
}

// CreateItem creates a new item holding the value in the managed
// field.
func (a *OnePasswordAdapter) CreateItem(ctx context.Context, creds destination.Credentials, cfg destination.Config, key, value string) (destination.RemoteItem, error) {
	vaultID := cfg[opConfigVault]
	body := opItem{
		Title:    key,
		Category: opItemCategory,
		Vault:    opVault{ID: vaultID},
		Fields: []opField{
			{Label: valueLabel(cfg), Type: "CONCEALED", Value: value},
		},
	}

	var created opItem
	if err := a.do(ctx, creds, http.MethodPost, fmt.Sprintf("/v1/vaults/%s/items", vaultID), body, &created); err != nil {
		return destination.RemoteItem{}, err
	}

	remote := destination.RemoteItem{ID: created.ID, Key: created.Title}
	for _, field := range created.Fields {
		if field.Label == valueLabel(cfg) {
			remote.FieldID = field.ID
		}
	}
	return remote, nil
}

// UpdateItem replaces only the managed field's value. The Connect PUT
// is a full item replace, so the current item is fetched first and
// written back with every other field intact.
func (a *OnePasswordAdapter) UpdateItem(ctx context.Context, creds destination.Credentials, cfg destination.Config, item destination.RemoteItem, value string) (destination.RemoteItem, error) {
	vaultID := cfg[opConfigVault]
	path := fmt.Sprintf("/v1/vaults/%s/items/%s", vaultID, item.ID)

	var current opItem
	if err := a.do(ctx, creds, http.MethodGet, path, nil, &current); err != nil {
		return destination.RemoteItem{}, err
	}

	label := valueLabel(cfg)
	replaced := false
	for i, field := range current.Fields {
		if (item.FieldID != "" && field.ID == item.FieldID) || (item.FieldID == "" && field.Label == label) {
			current.Fields[i].Value = value
			replaced = true
		}
	}
	if !replaced {
		current.Fields = append(current.Fields, opField{Label: label, Type: "CONCEALED", Value: value})
	}

	var updated opItem
	if err := a.do(ctx, creds, http.MethodPut, path, current, &updated); err != nil {
		return destination.RemoteItem{}, err
	}
	return destination.RemoteItem{ID: updated.ID, Key: updated.Title, FieldID: item.FieldID}, nil
}

// DeleteItem removes an item by its remote ID.
func (a *OnePasswordAdapter) DeleteItem(ctx context.Context, creds destination.Credentials, cfg destination.Config, remoteID string) error {
	path := fmt.Sprintf("/v1/vaults/%s/items/%s", cfg[opConfigVault], remoteID)
	return a.do(ctx, creds, http.MethodDelete, path, nil, nil)
}

// do performs one Connect API request, decoding the JSON response
// into out when out is non-nil.
func (a *OnePasswordAdapter) do(ctx context.Context, creds destination.Credentials, method, path string, body, out interface{}) error {
	url := creds[opCredHost] + path

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds[opCredToken])
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return destination.AuthError{Destination: TypeOnePassword, Message: string(bodyBytes)}
	case resp.StatusCode == http.StatusNotFound:
		return destination.NotFoundError{Destination: TypeOnePassword, Key: path}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("connect API %s %s: status %d: %s", method, path, resp.StatusCode, string(bodyBytes))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
