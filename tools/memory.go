package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/toolrpc/mcpd"
)

// Store holds JSON values by string key, shared by every memory tool bound
// to it. It is safe for concurrent use; the lock covers one operation at a
// time.
type Store struct {
	mu    sync.Mutex
	items map[string]json.RawMessage
}

// NewStore creates an empty store. The caller owns its lifecycle: the
// server binary shares one store across all calls, tests build one per
// test.
func NewStore() *Store {
	return &Store{
		items: make(map[string]json.RawMessage),
	}
}

func (s *Store) set(key string, value json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}

func (s *Store) get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.items[key]
	return value, ok
}

// keys returns the stored keys sorted, so listings are deterministic.
func (s *Store) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	return true
}

func (s *Store) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]json.RawMessage)
}

// Memory is a tool that stores and retrieves JSON values under string
// keys, backed by an injected Store.
type Memory struct {
	store *Store
}

// NewMemory creates a memory tool backed by store.
func NewMemory(store *Store) Memory {
	return Memory{store: store}
}

// Def implements mcpd.ToolDef.
func (Memory) Def() mcpd.Tool {
	return mcpd.Tool{
		Name:        "memory",
		Description: "Store and retrieve JSON memories using string keys",
		InputSchema: memorySchema,
	}
}

// Call implements mcpd.ToolDef. Missing or inapplicable arguments are
// reported to the peer as error results, not as Go errors.
func (m Memory) Call(_ context.Context, args memoryArgs) (mcpd.CallToolResult, error) {
	switch args.Action {
	case "store":
		return m.storeMemory(args)
	case "retrieve":
		return m.retrieveMemory(args)
	case "list":
		return m.listMemories()
	case "delete":
		return m.deleteMemory(args)
	case "clear":
		return m.clearMemories()
	default:
		return errorResult(fmt.Sprintf("Unknown action: %s", args.Action)), nil
	}
}

func (m Memory) storeMemory(args memoryArgs) (mcpd.CallToolResult, error) {
	if args.Key == nil {
		return errorResult("Key is required for store action"), nil
	}
	if isNullValue(args.Value) {
		return errorResult("Value is required for store action"), nil
	}

	m.store.set(*args.Key, args.Value)

	return textResult(fmt.Sprintf("Successfully stored memory with key: %s", *args.Key)), nil
}

func (m Memory) retrieveMemory(args memoryArgs) (mcpd.CallToolResult, error) {
	if args.Key == nil {
		return errorResult("Key is required for retrieve action"), nil
	}

	value, ok := m.store.get(*args.Key)
	if !ok {
		return textResult(fmt.Sprintf("No memory found for key: %s", *args.Key)), nil
	}

	pretty, err := prettyJSON(value)
	if err != nil {
		return mcpd.CallToolResult{}, fmt.Errorf("failed to format stored value: %w", err)
	}
	return textResult(pretty), nil
}

func (m Memory) listMemories() (mcpd.CallToolResult, error) {
	out, err := json.MarshalIndent(m.store.keys(), "", "  ")
	if err != nil {
		return mcpd.CallToolResult{}, fmt.Errorf("failed to format key list: %w", err)
	}
	return textResult(string(out)), nil
}

func (m Memory) deleteMemory(args memoryArgs) (mcpd.CallToolResult, error) {
	if args.Key == nil {
		return errorResult("Key is required for delete action"), nil
	}

	if !m.store.delete(*args.Key) {
		return textResult(fmt.Sprintf("No memory found to delete for key: %s", *args.Key)), nil
	}
	return textResult(fmt.Sprintf("Successfully deleted memory with key: %s", *args.Key)), nil
}

func (m Memory) clearMemories() (mcpd.CallToolResult, error) {
	m.store.clear()
	return textResult("Successfully cleared all memories"), nil
}

// isNullValue reports whether a raw value is absent. A JSON null counts as
// absent: storing null is indistinguishable from storing nothing.
func isNullValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func prettyJSON(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}
