package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sambigeara/messagecat/pkg/observability/metrics"
	"github.com/sambigeara/messagecat/pkg/wire"
)

var (
	ErrNotListenable = errors.New("request type cannot be listened for")
	ErrUnknownField  = errors.New("unknown field")
	ErrNoValues      = errors.New("field constraint without values")
)

// Subscriber receives notifications for the rules it owns.
type Subscriber interface {
	Notify(req wire.Request) error
}

// Descriptor is the client's description of a rule.
type Descriptor struct {
	Field  string            `json:"field,omitempty"`
	Value  json.RawMessage   `json:"value,omitempty"`
	Values []json.RawMessage `json:"values,omitempty"`
	Type   wire.RequestType  `json:"type"`
}

type rule struct {
	owner  Subscriber
	path   string
	values []gjson.Result
	id     int64
	typ    wire.RequestType
}

func (r *rule) matches(t wire.RequestType, payload []byte) bool {
	if r.typ != t {
		return false
	}
	if r.path == "" {
		return true
	}

	got := gjson.GetBytes(payload, r.path)
	if !got.Exists() {
		return false
	}
	for _, want := range r.values {
		if equal(got, want) {
			return true
		}
	}
	return false
}

func equal(a, b gjson.Result) bool {
	switch {
	case a.Type == b.Type && a.Type == gjson.Number:
		return a.Num == b.Num
	case a.Type == b.Type:
		return a.Raw == b.Raw || a.String() == b.String()
	case a.Type == gjson.Number && b.Type == gjson.String:
		n, err := strconv.ParseFloat(b.Str, 64)
		return err == nil && n == a.Num
	case a.Type == gjson.String && b.Type == gjson.Number:
		n, err := strconv.ParseFloat(a.Str, 64)
		return err == nil && n == b.Num
	default:
		return false
	}
}

type match struct {
	owner Subscriber
	id    int64
}

// Registry holds listen rules shared by every connection.
type Registry struct {
	rules   []*rule
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	nextID  int64
	mu      sync.RWMutex
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		metrics: m,
		log:     zap.S().Named("rules"),
	}
}

// Register validates d and records it for owner. Ids start at 1 and are never reused.
func (r *Registry) Register(owner Subscriber, d Descriptor) (int64, error) {
	if !Listenable(d.Type) {
		return 0, fmt.Errorf("%w: %s", ErrNotListenable, d.Type)
	}

	nr := &rule{owner: owner, typ: d.Type}
	if d.Field != "" {
		path, ok := resolveField(d.Type, d.Field)
		if !ok {
			return 0, fmt.Errorf("%w %q for %s", ErrUnknownField, d.Field, d.Type)
		}
		nr.path = path

		raw := d.Values
		if len(d.Value) > 0 {
			raw = append([]json.RawMessage{d.Value}, raw...)
		}
		for _, v := range raw {
			nr.values = append(nr.values, gjson.ParseBytes(v))
		}
		if len(nr.values) == 0 {
			return 0, ErrNoValues
		}
	}

	r.mu.Lock()
	r.nextID++
	nr.id = r.nextID
	r.rules = append(r.rules, nr)
	r.mu.Unlock()

	return nr.id, nil
}

// Unregister removes rule id if owner registered it.
func (r *Registry) Unregister(id int64, owner Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, rl := range r.rules {
		if rl.id != id {
			continue
		}
		if rl.owner != owner {
			return false
		}
		r.rules = append(r.rules[:i], r.rules[i+1:]...)
		return true
	}
	return false
}

func (r *Registry) UnregisterAll(owner Subscriber) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.rules[:0]
	for _, rl := range r.rules {
		if rl.owner != owner {
			kept = append(kept, rl)
		}
	}
	removed := len(r.rules) - len(kept)
	clear(r.rules[len(kept):])
	r.rules = kept
	return removed
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Evaluate notifies the owner of every rule matching req. Delivery failures
// are logged and do not stop the remaining notifications. It returns the
// number delivered.
func (r *Registry) Evaluate(req wire.Request) int {
	r.mu.RLock()
	var matched []match
	for _, rl := range r.rules {
		if rl.matches(req.Type, req.Data) {
			matched = append(matched, match{owner: rl.owner, id: rl.id})
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, m := range matched {
		n := req
		n.TriggerID = m.id
		n.KeyPair = nil
		if err := m.owner.Notify(n); err != nil {
			r.log.Debugw("notification failed", "rule", m.id, "type", req.Type.String(), "err", err)
			r.metrics.RecordNotification(false)
			continue
		}
		r.metrics.RecordNotification(true)
		delivered++
	}
	return delivered
}
