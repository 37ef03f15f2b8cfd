package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Components the agent cannot serve requests without. Readiness stays
// not_ready until every one of them has registered healthy.
var criticalComponents = []string{"storage", "task_engine", "api"}

// HealthStatus is the JSON body served by the health and readiness
// endpoints.
type HealthStatus struct {
	Status     string            `json:"status"` // healthy or unhealthy; ready or not_ready
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

// componentState is one entry in the health registry.
type componentState struct {
	healthy bool
	message string
	updated time.Time
}

// healthRegistry collects per-component health reported by the agent's
// long-running parts. A single process-wide instance backs the handlers so
// components can report without a registry threaded through every
// constructor.
type healthRegistry struct {
	mu         sync.RWMutex
	components map[string]componentState
	startTime  time.Time
	version    string
}

var registry = newHealthRegistry()

func newHealthRegistry() *healthRegistry {
	return &healthRegistry{
		components: make(map[string]componentState),
		startTime:  time.Now(),
	}
}

// SetVersion records the agent version reported in health responses.
func SetVersion(version string) {
	registry.mu.Lock()
	registry.version = version
	registry.mu.Unlock()
}

// RegisterComponent records the initial health of a named component.
// Registering the same name again overwrites the previous report.
func RegisterComponent(name string, healthy bool, message string) {
	registry.mu.Lock()
	registry.components[name] = componentState{
		healthy: healthy,
		message: message,
		updated: time.Now(),
	}
	registry.mu.Unlock()
}

// UpdateComponent reports a change in a component's health.
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// GetHealth folds every registered component into one overall status. One
// unhealthy component makes the whole agent unhealthy.
func GetHealth() HealthStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string, len(registry.components))
	for name, c := range registry.components {
		if c.healthy {
			components[name] = "healthy"
			continue
		}
		status = "unhealthy"
		components[name] = "unhealthy: " + c.message
	}
	return registry.snapshot(status, "", components)
}

// GetReadiness reports whether the agent can take traffic: every critical
// component must have registered and be healthy.
func GetReadiness() HealthStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string, len(criticalComponents))
	for _, name := range criticalComponents {
		c, ok := registry.components[name]
		switch {
		case !ok:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !c.healthy:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + c.message
		default:
			components[name] = "ready"
		}
	}
	return registry.snapshot(status, message, components)
}

// snapshot assembles a response; the caller holds at least a read lock.
func (r *healthRegistry) snapshot(status, message string, components map[string]string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    r.version,
		Uptime:     time.Since(r.startTime).String(),
		StartTime:  r.startTime,
	}
}

// HealthHandler serves the component health map. An unhealthy agent
// answers 503 so load balancers drop the node.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		code := http.StatusOK
		if health.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		respondJSON(w, code, health)
	}
}

// ReadyHandler serves startup readiness for orchestration probes.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		code := http.StatusOK
		if readiness.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		respondJSON(w, code, readiness)
	}
}

// LivenessHandler answers 200 whenever the process is up at all.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(registry.startTime).String(),
		})
	}
}

func respondJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
