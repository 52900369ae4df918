// Package lists is an in-memory list collection: named lists of loosely
// typed items with server-assigned ids, version tokens for optimistic
// concurrency, and a small query language. It backs the dev list server.
package lists

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Item fields maintained by the list itself.
const (
	FieldID       = "Id"
	FieldETag     = "@etag"
	FieldCreated  = "Created"
	FieldModified = "Modified"
	FieldKey      = "IdempotencyKey"
)

var (
	// ErrItemNotFound indicates no item has the requested id.
	ErrItemNotFound = errors.New("item not found")
	// ErrItemExists indicates an item with the same idempotency key exists.
	ErrItemExists = errors.New("item already exists")
	// ErrPreconditionFailed indicates a stale If-Match version token.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrInvalidFilter indicates a malformed $filter expression.
	ErrInvalidFilter = errors.New("invalid filter")
)

// Item is one stored list item.
type Item struct {
	ID       string
	Version  int
	Created  time.Time
	Modified time.Time
	Fields   map[string]any
}

// ETag returns the quoted version token of the item.
func (it Item) ETag() string {
	return strconv.Quote(strconv.Itoa(it.Version))
}

// Projection returns the item as a flat field map limited to sel. Id and
// @etag are always present.
func (it Item) Projection(sel []string) map[string]any {
	out := make(map[string]any, len(it.Fields)+4)
	if len(sel) == 0 {
		for k, v := range it.Fields {
			out[k] = v
		}
		out[FieldCreated] = it.Created.Format(time.RFC3339)
		out[FieldModified] = it.Modified.Format(time.RFC3339)
	} else {
		for _, k := range sel {
			if v, ok := it.Fields[k]; ok {
				out[k] = v
			}
		}
	}
	out[FieldID] = it.ID
	out[FieldETag] = it.ETag()
	return out
}

// Query selects items.
type Query struct {
	Filter Filter
	Select []string
	Top    int // 0 means no limit
}

// List is one named list. Safe for concurrent use.
type List struct {
	name string
	now  func() time.Time

	mu    sync.RWMutex
	order []string
	items map[string]*Item
	keys  map[string]string // idempotency key -> id
}

func newList(name string, now func() time.Time) *List {
	return &List{
		name:  name,
		now:   now,
		items: make(map[string]*Item),
		keys:  make(map[string]string),
	}
}

// Name returns the list name.
func (l *List) Name() string { return l.name }

// Len returns the number of items.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Find returns the items matching q in insertion order.
func (l *List) Find(q Query) []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Item
	for _, id := range l.order {
		it := l.items[id]
		if !q.Filter.Match(it.Fields) {
			continue
		}
		out = append(out, copyItem(it))
		if q.Top > 0 && len(out) == q.Top {
			break
		}
	}
	return out
}

// Get returns the item with id.
func (l *List) Get(id string) (Item, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	it, ok := l.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return copyItem(it), nil
}

// Create stores fields as a new item at version 1. An item whose
// IdempotencyKey is already present is rejected with ErrItemExists.
func (l *List) Create(fields map[string]any) (Item, error) {
	fields = cleanFields(fields)
	key, _ := fields[FieldKey].(string)

	l.mu.Lock()
	defer l.mu.Unlock()

	if key != "" {
		if id, ok := l.keys[key]; ok {
			return Item{}, fmt.Errorf("%w: %s", ErrItemExists, id)
		}
	}

	now := l.now()
	it := &Item{
		ID:       ulid.Make().String(),
		Version:  1,
		Created:  now,
		Modified: now,
		Fields:   fields,
	}
	l.items[it.ID] = it
	l.order = append(l.order, it.ID)
	if key != "" {
		l.keys[key] = it.ID
	}
	return copyItem(it), nil
}

// Update merges fields into the item with id and bumps its version. A
// null field value removes the field.
// ifMatch must be empty, "*", or the item's current ETag.
func (l *List) Update(id, ifMatch string, fields map[string]any) (Item, error) {
	fields = cleanFields(fields)

	l.mu.Lock()
	defer l.mu.Unlock()

	it, ok := l.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	if !etagMatches(ifMatch, it.ETag()) {
		return Item{}, ErrPreconditionFailed
	}

	if key, ok := fields[FieldKey].(string); ok && key != "" {
		if owner, taken := l.keys[key]; taken && owner != id {
			return Item{}, fmt.Errorf("%w: %s", ErrItemExists, owner)
		}
		if old, _ := it.Fields[FieldKey].(string); old != "" && old != key {
			delete(l.keys, old)
		}
		l.keys[key] = id
	}
	for k, v := range fields {
		if v == nil {
			delete(it.Fields, k)
			continue
		}
		it.Fields[k] = v
	}
	it.Version++
	it.Modified = l.now()
	return copyItem(it), nil
}

func etagMatches(ifMatch, current string) bool {
	ifMatch = strings.TrimSpace(ifMatch)
	if ifMatch == "" || ifMatch == "*" {
		return true
	}
	for _, candidate := range strings.Split(ifMatch, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == current {
			return true
		}
	}
	return false
}

// cleanFields drops fields the list maintains itself.
func cleanFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case FieldID, FieldETag, FieldCreated, FieldModified:
			continue
		}
		out[k] = v
	}
	return out
}

func copyItem(it *Item) Item {
	cp := *it
	cp.Fields = make(map[string]any, len(it.Fields))
	for k, v := range it.Fields {
		cp.Fields[k] = v
	}
	return cp
}
