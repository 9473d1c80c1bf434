package notify

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"bridgesentinel/types"

	"github.com/google/uuid"
)

type Kind string

const (
	BridgeRegistered          Kind = "bridge-registered"
	BridgeUpdated             Kind = "bridge-updated"
	BridgeDeactivated         Kind = "bridge-deactivated"
	BridgeReactivated         Kind = "bridge-reactivated"
	ImplementationWhitelisted Kind = "implementation-whitelisted"
	ImplementationRevoked     Kind = "implementation-revoked"
	GlobalConfigChanged       Kind = "global-config-changed"
	BridgePaused              Kind = "bridge-paused"
	BridgeUnpaused            Kind = "bridge-unpaused"
	BridgeUpgraded            Kind = "bridge-upgraded"
	BridgeQuarantined         Kind = "bridge-quarantined"
	BridgeReleased            Kind = "bridge-released"
	ReleaseApproved           Kind = "release-approved"
	HealthChecked             Kind = "health-checked"
	HealthCheckFailed         Kind = "health-check-failed"
	CircuitBreakerTripped     Kind = "circuit-breaker-tripped"
	CircuitBreakerReset       Kind = "circuit-breaker-reset"
	AnomalyDetected           Kind = "anomaly-detected"
	RoleGranted               Kind = "role-granted"
	RoleRevoked               Kind = "role-revoked"
	ServicePaused             Kind = "service-paused"
	ServiceUnpaused           Kind = "service-unpaused"
)

// Notification describes one state transition. BridgeID is zero for
// service wide transitions.
type Notification struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	BridgeID  types.BridgeID    `json:"bridgeId"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// New builds a notification; fields are given as key, value pairs.
func New(kind Kind, bridgeID types.BridgeID, kv ...string) Notification {
	n := Notification{
		ID:        uuid.New().String(),
		Kind:      kind,
		BridgeID:  bridgeID,
		Timestamp: time.Now().UTC(),
	}
	if len(kv) > 0 {
		n.Fields = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			n.Fields[kv[i]] = kv[i+1]
		}
	}
	return n
}

// Notifier must not block; implementations deliver best effort.
type Notifier interface {
	Notify(n Notification)
}

type Discard struct{}

func (Discard) Notify(Notification) {}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, notifier := range m {
		notifier.Notify(n)
	}
}

type LogNotifier struct{}

func (LogNotifier) Notify(n Notification) {
	keys := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(n.Fields[k])
	}

	if n.BridgeID == (types.BridgeID{}) {
		log.Printf("[%s]%s", n.Kind, b.String())
		return
	}
	log.Printf("[%s] bridge %s%s", n.Kind, n.BridgeID.Hex(), b.String())
}

// Recorder keeps notifications in memory, used by tests and the
// /notifications endpoint. With Limit > 0 only the latest Limit are kept.
type Recorder struct {
	Limit int

	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	if r.Limit > 0 && len(r.sent) > r.Limit {
		r.sent = append(r.sent[:0], r.sent[len(r.sent)-r.Limit:]...)
	}
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// Kinds returns the kinds recorded so far, in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, 0, len(r.sent))
	for _, n := range r.sent {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

// Count returns how many notifications of the given kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.sent {
		if n.Kind == kind {
			count++
		}
	}
	return count
}
