package destinations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/secretops/secretops/internal/logging"
	"github.com/secretops/secretops/pkg/destination"
)

// fakeConnect is a minimal in-memory 1Password Connect server.
type fakeConnect struct {
	t      *testing.T
	token  string
	items  map[string]*opItem // id -> item
	nextID int
}

func newFakeConnect(t *testing.T) *fakeConnect {
	return &fakeConnect{t: t, token: "connect-token", items: make(map[string]*opItem)}
}

func (f *fakeConnect) add(item opItem) string {
	f.nextID++
	id := fmt.Sprintf("op-%d", f.nextID)
	item.ID = id
	for i := range item.Fields {
		if item.Fields[i].ID == "" {
			item.Fields[i].ID = fmt.Sprintf("%s-f%d", id, i)
		}
	}
	f.items[id] = &item
	return id
}

func (f *fakeConnect) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+f.token {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, "invalid bearer token")
			return
		}

		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/vaults/"), "/")
		switch {
		case len(parts) == 2 && r.Method == http.MethodGet: // list
			var summaries []opItem
			for _, item := range f.items {
				summaries = append(summaries, opItem{ID: item.ID, Title: item.Title, Category: item.Category})
			}
			json.NewEncoder(w).Encode(summaries)
		case len(parts) == 2 && r.Method == http.MethodPost: // create
			var item opItem
			json.NewDecoder(r.Body).Decode(&item)
			id := f.add(item)
			json.NewEncoder(w).Encode(f.items[id])
		case len(parts) == 3 && r.Method == http.MethodGet: // detail
			item, ok := f.items[parts[2]]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(item)
		case len(parts) == 3 && r.Method == http.MethodPut: // replace
			var item opItem
			json.NewDecoder(r.Body).Decode(&item)
			item.ID = parts[2]
			f.items[parts[2]] = &item
			json.NewEncoder(w).Encode(&item)
		case len(parts) == 3 && r.Method == http.MethodDelete:
			delete(f.items, parts[2])
			w.WriteHeader(http.StatusNoContent)
		default:
			f.t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	})
}

func opTestSetup(t *testing.T) (*OnePasswordAdapter, *fakeConnect, destination.Credentials, destination.Config) {
	fake := newFakeConnect(t)
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	adapter := NewOnePasswordAdapter(logging.New(false, true))
	creds := destination.Credentials{opCredHost: server.URL, opCredToken: fake.token}
	cfg := destination.Config{opConfigVault: "vault-1"}
	return adapter, fake, creds, cfg
}

func TestOnePasswordListItems(t *testing.T) {
	adapter, fake, creds, cfg := opTestSetup(t)
	fake.add(opItem{Title: "DB_URL", Category: opItemCategory, Fields: []opField{
		{Label: "value", Value: "postgres://db"},
		{Label: "notes", Value: "owned by payments"},
	}})
	fake.add(opItem{Title: "my-login", Category: "LOGIN", Fields: []opField{
		{Label: "value", Value: "nope"},
	}})

	result, err := adapter.ListItems(context.Background(), creds, cfg)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}

	if len(result.Items) != 1 {
		t.Fatalf("items = %+v, want only the API_CREDENTIAL item", result.Items)
	}
	item := result.Items["DB_URL"]
	if item.Value != "postgres://db" {
		t.Errorf("value = %q", item.Value)
	}
	if item.FieldID == "" {
		t.Error("managed field ID not captured")
	}
	if len(item.OtherFields) != 1 {
		t.Errorf("other fields = %+v, want the notes field preserved", item.OtherFields)
	}
}

func TestOnePasswordListDuplicates(t *testing.T) {
	adapter, fake, creds, cfg := opTestSetup(t)
	fake.add(opItem{Title: "API_KEY", Category: opItemCategory, Fields: []opField{{Label: "value", Value: "first"}}})
	dupID := fake.add(opItem{Title: "API_KEY", Category: opItemCategory, Fields: []opField{{Label: "value", Value: "second"}}})
	_ = dupID

	result, err := adapter.ListItems(context.Background(), creds, cfg)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}

	if len(result.Items) != 1 {
		t.Fatalf("items = %+v", result.Items)
	}
	if len(result.Duplicates) != 1 {
		t.Fatalf("duplicates = %+v, want one entry", result.Duplicates)
	}
	for _, key := range result.Duplicates {
		if key != "API_KEY" {
			t.Errorf("duplicate resolved to key %q", key)
		}
	}
}

func TestOnePasswordCreateItem(t *testing.T) {
	adapter, fake, creds, cfg := opTestSetup(t)

	remote, err := adapter.CreateItem(context.Background(), creds, cfg, "NEW_KEY", "v1")
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if remote.ID == "" || remote.Key != "NEW_KEY" {
		t.Errorf("remote = %+v", remote)
	}

	stored := fake.items[remote.ID]
	if stored.Category != opItemCategory {
		t.Errorf("category = %q", stored.Category)
	}
	if len(stored.Fields) != 1 || stored.Fields[0].Value != "v1" || stored.Fields[0].Type != "CONCEALED" {
		t.Errorf("fields = %+v", stored.Fields)
	}
}

func TestOnePasswordUpdatePreservesOtherFields(t *testing.T) {
	adapter, fake, creds, cfg := opTestSetup(t)
	id := fake.add(opItem{Title: "DB_URL", Category: opItemCategory, Fields: []opField{
		{ID: "fv", Label: "value", Value: "old"},
		{ID: "fn", Label: "notes", Value: "keep me"},
	}})

	_, err := adapter.UpdateItem(context.Background(), creds, cfg, destination.RemoteItem{
		ID: id, Key: "DB_URL", FieldID: "fv",
	}, "new")
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	stored := fake.items[id]
	var gotValue, gotNotes string
	for _, field := range stored.Fields {
		switch field.ID {
		case "fv":
			gotValue = field.Value
		case "fn":
			gotNotes = field.Value
		}
	}
	if gotValue != "new" {
		t.Errorf("value = %q, want %q", gotValue, "new")
	}
	if gotNotes != "keep me" {
		t.Errorf("notes = %q, unrelated field must survive the update", gotNotes)
	}
}

func TestOnePasswordDeleteItem(t *testing.T) {
	adapter, fake, creds, cfg := opTestSetup(t)
	id := fake.add(opItem{Title: "STALE", Category: opItemCategory})

	if err := adapter.DeleteItem(context.Background(), creds, cfg, id); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if _, exists := fake.items[id]; exists {
		t.Error("item still present after delete")
	}
}

func TestOnePasswordAuthError(t *testing.T) {
	adapter, _, creds, cfg := opTestSetup(t)
	creds[opCredToken] = "wrong"

	_, err := adapter.ListItems(context.Background(), creds, cfg)
	var authErr destination.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	if authErr.Destination != TypeOnePassword {
		t.Errorf("destination = %q", authErr.Destination)
	}
}
