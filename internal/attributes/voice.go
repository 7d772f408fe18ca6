package attributes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrMalformedCatalog = errors.New("malformed voice catalog")

// Voice is one entry of the catalog the agent publishes.
type Voice struct {
	ID          string    `json:"id"`
	UserID      *string   `json:"user_id"`
	IsPublic    bool      `json:"is_public"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   Timestamp `json:"created_at"`
	Embedding   []float64 `json:"embedding,omitempty"`
}

// Shared reports whether the voice is not owned by a specific user.
func (v Voice) Shared() bool { return v.UserID == nil }

func (v Voice) DisplayName() string {
	if v.Name != "" {
		return v.Name
	}
	return v.ID
}

// Timestamp accepts the few layouts the catalog has been seen with.
// Unparseable values decode to the zero time.
type Timestamp struct{ time.Time }

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// null or a non-string: leave zero
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// Catalog is an immutable snapshot of available voices.
type Catalog struct {
	Voices    []Voice
	Raw       string
	UpdatedAt time.Time
}

func (c *Catalog) Find(id string) (Voice, bool) {
	if c == nil {
		return Voice{}, false
	}
	for _, v := range c.Voices {
		if v.ID == id {
			return v, true
		}
	}
	return Voice{}, false
}

// ParseCatalog decodes the voices attribute. Any structural problem
// rejects the whole payload.
func ParseCatalog(raw string) ([]Voice, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedCatalog)
	}
	var voices []Voice
	if err := json.Unmarshal([]byte(raw), &voices); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
	}
	seen := make(map[string]struct{}, len(voices))
	for i, v := range voices {
		if v.ID == "" {
			return nil, fmt.Errorf("%w: entry %d has no id", ErrMalformedCatalog, i)
		}
		if _, dup := seen[v.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrMalformedCatalog, v.ID)
		}
		seen[v.ID] = struct{}{}
	}
	return voices, nil
}
