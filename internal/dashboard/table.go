// Package dashboard holds the operator-facing telemetry table and profile
// chooser, and serves them over HTTP and websocket.
package dashboard

import (
	"math"
	"sort"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"
)

// Table is a concurrency-safe store of named dashboard values. It is written
// by the control loop and by dashboard clients.
type Table struct {
	mu      sync.RWMutex
	numbers map[string]float64
	strings map[string]string
	bools   map[string]bool
	version uint64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		numbers: make(map[string]float64),
		strings: make(map[string]string),
		bools:   make(map[string]bool),
	}
}

// PutNumber stores a numeric value.
func (t *Table) PutNumber(key string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.numbers[key] = value
	t.version++
}

// PutString stores a string value.
func (t *Table) PutString(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.strings[key] = value
	t.version++
}

// PutBoolean stores a boolean value.
func (t *Table) PutBoolean(key string, value bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bools[key] = value
	t.version++
}

// GetNumber returns the value stored under key, or def when absent.
func (t *Table) GetNumber(key string, def float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if v, ok := t.numbers[key]; ok {
		return v
	}
	return def
}

// GetString returns the value stored under key, or def when absent.
func (t *Table) GetString(key, def string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if v, ok := t.strings[key]; ok {
		return v
	}
	return def
}

// GetBoolean returns the value stored under key, or def when absent.
func (t *Table) GetBoolean(key string, def bool) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if v, ok := t.bools[key]; ok {
		return v
	}
	return def
}

// Version increases on every write.
func (t *Table) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Snapshot is a point-in-time copy of a Table.
type Snapshot struct {
	Numbers  map[string]float64
	Strings  map[string]string
	Booleans map[string]bool
	Version  uint64
}

// Snapshot copies every value; the result does not alias the table.
func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Snapshot{
		Numbers:  make(map[string]float64, len(t.numbers)),
		Strings:  make(map[string]string, len(t.strings)),
		Booleans: make(map[string]bool, len(t.bools)),
		Version:  t.version,
	}
	for k, v := range t.numbers {
		s.Numbers[k] = v
	}
	for k, v := range t.strings {
		s.Strings[k] = v
	}
	for k, v := range t.bools {
		s.Booleans[k] = v
	}
	return s
}

// Keys returns every stored key in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Numbers)+len(s.Strings)+len(s.Booleans))
	for k := range s.Numbers {
		keys = append(keys, k)
	}
	for k := range s.Strings {
		keys = append(keys, k)
	}
	for k := range s.Booleans {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Struct renders the snapshot as a protobuf Struct with "numbers",
// "strings" and "booleans" objects. NaN and infinite numbers are dropped;
// JSON cannot carry them.
func (s Snapshot) Struct() (*structpb.Struct, error) {
	numbers := make(map[string]any, len(s.Numbers))
	for k, v := range s.Numbers {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		numbers[k] = v
	}
	strs := make(map[string]any, len(s.Strings))
	for k, v := range s.Strings {
		strs[k] = v
	}
	bools := make(map[string]any, len(s.Booleans))
	for k, v := range s.Booleans {
		bools[k] = v
	}
	return structpb.NewStruct(map[string]any{
		"numbers":  numbers,
		"strings":  strs,
		"booleans": bools,
		"version":  float64(s.Version),
	})
}
