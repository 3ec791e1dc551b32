package localstore

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/parsekit/internal/blob"
)

// Registry owns the Store of every class registered for local caching.
// A class without a registration is always queried remotely.
type Registry struct {
	blobs    blob.Store
	appID    string
	now      func() time.Time
	logger   *slog.Logger
	parallel int

	mu     sync.RWMutex
	stores map[string]*Store
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithAppID scopes blob namespaces to an application.
func WithAppID(appID string) RegistryOption {
	return func(r *Registry) { r.appID = appID }
}

// WithClock sets the time source used for freshness checks.
// The clock must agree with the one given to the blob store.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithPersistConcurrency bounds parallel blob writes during population.
func WithPersistConcurrency(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.parallel = n
		}
	}
}

// NewRegistry creates an empty registry over blobs.
func NewRegistry(blobs blob.Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		blobs:    blobs,
		appID:    "default",
		now:      time.Now,
		logger:   slog.Default(),
		parallel: DefaultPersistConcurrency,
		stores:   make(map[string]*Store),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register enables local caching of className with the given TTL.
// Registering a class again replaces its TTL and drops its memoised snapshot.
func (r *Registry) Register(className string, ttl time.Duration) (*Store, error) {
	if className == "" {
		return nil, fmt.Errorf("register: empty class name")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("register %s: expireAfter must be positive, got %s", className, ttl)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := &Store{
		className: className,
		namespace: blob.Namespace(r.appID, className),
		ttl:       ttl,
		blobs:     r.blobs,
		now:       r.now,
		logger:    r.logger.With("component", "localstore"),
		parallel:  r.parallel,
	}
	r.stores[className] = s
	r.logger.Debug("class registered", "class", className, "expireAfter", ttl)
	return s, nil
}

// Store returns the store of a registered class.
func (r *Registry) Store(className string) (*Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stores[className]
	return s, ok
}

// Classes returns registered class names in sorted order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Inspect reports on every registered class.
func (r *Registry) Inspect() ([]Report, error) {
	var reports []Report
	for _, name := range r.Classes() {
		s, _ := r.Store(name)
		rep, err := s.Inspect()
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// Blobs returns the underlying blob store.
func (r *Registry) Blobs() blob.Store { return r.blobs }
