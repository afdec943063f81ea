package idempotency

import (
	"strings"
	"sync"
)

// defaultSensitiveFields is the built-in deny-list of field names masked or
// stripped before a payload is logged or persisted.
var defaultSensitiveFields = []string{
	"password",
	"token",
	"api_key",
	"apikey",
	"secret",
	"cvv",
	"pin",
	"ssn",
	"credit_card",
	"card_number",
	"bearer_token",
	"private_key",
	"salt",
	"access_token",
	"refresh_token",
	"authorization",
}

// SensitiveFilter masks or strips fields whose name matches a (runtime
// extensible) deny-list before a payload is logged or stored.
type SensitiveFilter struct {
	mu     sync.RWMutex
	fields map[string]struct{}
}

// NewSensitiveFilter builds a filter seeded with the built-in deny-list.
func NewSensitiveFilter() *SensitiveFilter {
	f := &SensitiveFilter{fields: make(map[string]struct{}, len(defaultSensitiveFields))}
	for _, name := range defaultSensitiveFields {
		f.fields[name] = struct{}{}
	}
	return f
}

// Add registers an additional sensitive field name (case-insensitive).
func (f *SensitiveFilter) Add(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields[strings.ToLower(name)] = struct{}{}
}

// Remove unregisters a sensitive field name.
func (f *SensitiveFilter) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fields, strings.ToLower(name))
}

// IsSensitive reports whether name matches the deny-list, case-insensitive.
func (f *SensitiveFilter) IsSensitive(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.fields[strings.ToLower(name)]
	return ok
}

// Mask returns a deep copy of data with sensitive fields replaced by a
// partially-obscured placeholder: strings of length <= 4 become all
// asterisks; longer strings keep their first and last two characters;
// numerics and nulls become "***".
func (f *SensitiveFilter) Mask(data any) any {
	return f.walk(data, maskValue)
}

// StripForLog returns a deep copy of data with sensitive fields omitted
// entirely (maps only — sensitive fields inside slices of scalars have
// nothing to strip).
func (f *SensitiveFilter) StripForLog(data any) any {
	return f.walk(data, nil)
}

// walk recursively rebuilds data, applying replace to any value whose key is
// sensitive. When replace is nil, sensitive keys are omitted instead.
func (f *SensitiveFilter) walk(data any, replace func(any) any) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if f.IsSensitive(key) {
				if replace == nil {
					continue
				}
				out[key] = replace(val)
				continue
			}
			out[key] = f.walk(val, replace)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = f.walk(val, replace)
		}
		return out
	default:
		return v
	}
}

// maskValue implements the partial-obscuring rule for a single leaf value.
func maskValue(v any) any {
	switch val := v.(type) {
	case string:
		return maskString(val)
	case nil:
		return "***"
	default:
		return "***"
	}
}

func maskString(s string) string {
	runes := []rune(s)
	n := len(runes)
	if n == 0 {
		return ""
	}
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
}
