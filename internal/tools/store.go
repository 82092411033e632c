package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// StoreItem is one record in an agent-scoped or shared JSON document store,
// per spec.md §4.2.
type StoreItem struct {
	ID        string          `json:"id"`
	Type      string          `json:"type,omitempty"`
	Title     string          `json:"title,omitempty"`
	Status    string          `json:"status,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	ParentID  string          `json:"parentId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	CreatedBy string          `json:"createdBy,omitempty"`
}

type storeDocument struct {
	Version int         `json:"version"`
	Items   []StoreItem `json:"items"`
}

// Store is a single-writer, file-backed document of StoreItems living at
// <project>/.agentuse/store/<name>/items.json, guarded by a sibling lock
// file. Reacquisition by the same process is idempotent, per spec.md §4.2.
type Store struct {
	dir  string
	name string
	mu   sync.Mutex
}

// NewStore opens (without yet locking) the named store under root.
func NewStore(root, name string) *Store {
	return &Store{dir: filepath.Join(root, ".agentuse", "store", name), name: name}
}

func (s *Store) itemsPath() string { return filepath.Join(s.dir, "items.json") }
func (s *Store) lockPath() string  { return filepath.Join(s.dir, "lock") }

type lockInfo struct {
	PID   int    `json:"pid"`
	Agent string `json:"agent"`
}

// acquire takes the store's lockfile. Reacquisition by a lock already held
// by this process+agent is a no-op (idempotent), per spec.md §4.2.
func (s *Store) acquire(agent string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	pid := os.Getpid()
	if data, err := os.ReadFile(s.lockPath()); err == nil {
		var existing lockInfo
		if json.Unmarshal(data, &existing) == nil && existing.PID == pid && existing.Agent == agent {
			return nil
		}
	}
	data, _ := json.Marshal(lockInfo{PID: pid, Agent: agent})
	return atomicWrite(s.lockPath(), data)
}

func (s *Store) release() {
	_ = os.Remove(s.lockPath())
}

func (s *Store) load() (*storeDocument, error) {
	data, err := os.ReadFile(s.itemsPath())
	if os.IsNotExist(err) {
		return &storeDocument{Version: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc storeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt store document: %w", err)
	}
	return &doc, nil
}

func (s *Store) save(doc *storeDocument) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.itemsPath(), data)
}

// Create inserts a new item with a fresh ULID id and returns it.
func (s *Store) Create(agent string, item StoreItem) (StoreItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acquire(agent); err != nil {
		return StoreItem{}, err
	}
	defer s.release()

	doc, err := s.load()
	if err != nil {
		return StoreItem{}, err
	}
	now := time.Now().UTC()
	item.ID = ulid.Make().String()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.CreatedBy = agent
	doc.Version = 1
	doc.Items = append(doc.Items, item)
	if err := s.save(doc); err != nil {
		return StoreItem{}, err
	}
	return item, nil
}

// Get returns the item with the given id.
func (s *Store) Get(id string) (StoreItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return StoreItem{}, false, err
	}
	for _, it := range doc.Items {
		if it.ID == id {
			return it, true, nil
		}
	}
	return StoreItem{}, false, nil
}

// Update mutates the item with id via fn and persists it.
func (s *Store) Update(agent, id string, fn func(*StoreItem)) (StoreItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acquire(agent); err != nil {
		return StoreItem{}, err
	}
	defer s.release()

	doc, err := s.load()
	if err != nil {
		return StoreItem{}, err
	}
	for i := range doc.Items {
		if doc.Items[i].ID == id {
			fn(&doc.Items[i])
			doc.Items[i].UpdatedAt = time.Now().UTC()
			if err := s.save(doc); err != nil {
				return StoreItem{}, err
			}
			return doc.Items[i], nil
		}
	}
	return StoreItem{}, fmt.Errorf("item %q not found", id)
}

// Delete removes the item with id.
func (s *Store) Delete(agent, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acquire(agent); err != nil {
		return err
	}
	defer s.release()

	doc, err := s.load()
	if err != nil {
		return err
	}
	for i, it := range doc.Items {
		if it.ID == id {
			doc.Items = append(doc.Items[:i], doc.Items[i+1:]...)
			return s.save(doc)
		}
	}
	return fmt.Errorf("item %q not found", id)
}

// List returns every item, optionally filtered by type.
func (s *Store) List(itemType string) ([]StoreItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	if itemType == "" {
		return doc.Items, nil
	}
	var out []StoreItem
	for _, it := range doc.Items {
		if it.Type == itemType {
			out = append(out, it)
		}
	}
	return out, nil
}

// --- Tool wrappers exposing the store CRUD surface to the model ---

type storeCreateTool struct{ store *Store }
type storeGetTool struct{ store *Store }
type storeUpdateTool struct{ store *Store }
type storeDeleteTool struct{ store *Store }
type storeListTool struct{ store *Store }

// NewStoreTools builds the five store.{create,get,update,delete,list} tools
// backed by one Store, per spec.md §4.2.
func NewStoreTools(s *Store) []Tool {
	return []Tool{
		&storeCreateTool{s}, &storeGetTool{s}, &storeUpdateTool{s},
		&storeDeleteTool{s}, &storeListTool{s},
	}
}

func (t *storeCreateTool) Name() string        { return "store_create" }
func (t *storeCreateTool) Description() string { return "Create a new item in the agent store." }
func (t *storeCreateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":     map[string]any{"type": "string"},
			"title":    map[string]any{"type": "string"},
			"status":   map[string]any{"type": "string"},
			"data":     map[string]any{"type": "object"},
			"tags":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"parentId": map[string]any{"type": "string"},
		},
	}
}

func agentFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(agentNameKey{}).(string); ok {
		return v
	}
	return "agent"
}

type agentNameKey struct{}

// WithAgentName threads the calling agent's identity into tool context so
// store writes can be attributed without a struct field per tool instance.
func WithAgentName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, agentNameKey{}, name)
}

func (t *storeCreateTool) Execute(ctx context.Context, args map[string]any) *Result {
	item := itemFromArgs(args)
	created, err := t.store.Create(agentFromCtx(ctx), item)
	if err != nil {
		return ErrorResult(err.Error())
	}
	return jsonResult(created)
}

func (t *storeGetTool) Name() string        { return "store_get" }
func (t *storeGetTool) Description() string { return "Fetch one item from the agent store by id." }
func (t *storeGetTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{"id": map[string]any{"type": "string"}}, "required": []string{"id"}}
}
func (t *storeGetTool) Execute(ctx context.Context, args map[string]any) *Result {
	id, _ := args["id"].(string)
	item, found, err := t.store.Get(id)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if !found {
		return ErrorResult(fmt.Sprintf("item %q not found", id))
	}
	return jsonResult(item)
}

func (t *storeUpdateTool) Name() string        { return "store_update" }
func (t *storeUpdateTool) Description() string { return "Update fields on an existing store item." }
func (t *storeUpdateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":     map[string]any{"type": "string"},
			"title":  map[string]any{"type": "string"},
			"status": map[string]any{"type": "string"},
			"data":   map[string]any{"type": "object"},
			"tags":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"id"},
	}
}
func (t *storeUpdateTool) Execute(ctx context.Context, args map[string]any) *Result {
	id, _ := args["id"].(string)
	if id == "" {
		return ErrorResult("id is required")
	}
	updated, err := t.store.Update(agentFromCtx(ctx), id, func(it *StoreItem) {
		if v, ok := args["title"].(string); ok {
			it.Title = v
		}
		if v, ok := args["status"].(string); ok {
			it.Status = v
		}
		if v, ok := args["data"]; ok {
			if b, err := json.Marshal(v); err == nil {
				it.Data = b
			}
		}
		if v, ok := args["tags"].([]any); ok {
			it.Tags = toStringSlice(v)
		}
	})
	if err != nil {
		return ErrorResult(err.Error())
	}
	return jsonResult(updated)
}

func (t *storeDeleteTool) Name() string        { return "store_delete" }
func (t *storeDeleteTool) Description() string { return "Delete a store item by id." }
func (t *storeDeleteTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{"id": map[string]any{"type": "string"}}, "required": []string{"id"}}
}
func (t *storeDeleteTool) Execute(ctx context.Context, args map[string]any) *Result {
	id, _ := args["id"].(string)
	if err := t.store.Delete(agentFromCtx(ctx), id); err != nil {
		return ErrorResult(err.Error())
	}
	return NewResult(fmt.Sprintf("deleted %s", id))
}

func (t *storeListTool) Name() string        { return "store_list" }
func (t *storeListTool) Description() string { return "List store items, optionally filtered by type." }
func (t *storeListTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{"type": map[string]any{"type": "string"}}}
}
func (t *storeListTool) Execute(ctx context.Context, args map[string]any) *Result {
	itemType, _ := args["type"].(string)
	items, err := t.store.List(itemType)
	if err != nil {
		return ErrorResult(err.Error())
	}
	return jsonResult(items)
}

func itemFromArgs(args map[string]any) StoreItem {
	item := StoreItem{}
	item.Type, _ = args["type"].(string)
	item.Title, _ = args["title"].(string)
	item.Status, _ = args["status"].(string)
	item.ParentID, _ = args["parentId"].(string)
	if v, ok := args["data"]; ok {
		if b, err := json.Marshal(v); err == nil {
			item.Data = b
		}
	}
	if v, ok := args["tags"].([]any); ok {
		item.Tags = toStringSlice(v)
	}
	return item
}

func toStringSlice(v []any) []string {
	out := make([]string, 0, len(v))
	for _, x := range v {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func jsonResult(v any) *Result {
	b, err := json.Marshal(v)
	if err != nil {
		return ErrorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return NewResult(string(b))
}
