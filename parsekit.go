// Package parsekit is a client for Parse-compatible backends that serves
// reads from a local cache when it can.
//
// A Client is built from a config.Config:
//
//	c, err := parsekit.New(cfg)
//	defer c.Close()
//	notes, err := c.Find(ctx, parsekit.NewQuery("Note").EqualTo("folder", "inbox"))
//
// Classes declared in the configuration or the schema directory are
// populated into the local store on demand and queried locally while
// fresh; every other class goes to the server.
package parsekit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/parsekit/internal/blob"
	"github.com/roach88/parsekit/internal/config"
	"github.com/roach88/parsekit/internal/fetch"
	"github.com/roach88/parsekit/internal/localstore"
	"github.com/roach88/parsekit/internal/metrics"
	"github.com/roach88/parsekit/internal/operation"
	"github.com/roach88/parsekit/internal/query"
	"github.com/roach88/parsekit/internal/record"
	"github.com/roach88/parsekit/internal/relation"
	"github.com/roach88/parsekit/internal/schema"
	"github.com/roach88/parsekit/internal/transport"
	"github.com/roach88/parsekit/internal/value"
)

// Re-exported building blocks.
type (
	Query   = query.Query
	Record  = record.Record
	Pointer = value.Pointer
	Op      = operation.Op
	Members = relation.Members
	Class   = schema.Class
	Report  = localstore.Report
)

// NewQuery starts a query over className.
func NewQuery(className string) Query { return query.New(className) }

// NewRecord creates an unsaved record.
func NewRecord() Record { return record.New(nil) }

// Client wires the cache, query engine and writers to one backend.
type Client struct {
	cfg       *config.Config
	logger    *slog.Logger
	blobs     blob.Store
	ownsBlobs bool
	registry  *localstore.Registry
	transport transport.Transport
	metrics   *metrics.Metrics
	engine    *query.Engine
	fetcher   *fetch.Coalescer
	relations *relation.Cache
	writer    *operation.Writer
	classes   map[string]schema.Class
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger     *slog.Logger
	transport  transport.Transport
	blobs      blob.Store
	registerer prometheus.Registerer
	classes    []schema.Class
}

// WithLogger sets the structured logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// WithTransport replaces the HTTP transport.
func WithTransport(t transport.Transport) Option {
	return func(o *clientOptions) { o.transport = t }
}

// WithBlobStore replaces the configured cache backend. The client does
// not close it.
func WithBlobStore(s blob.Store) Option {
	return func(o *clientOptions) { o.blobs = s }
}

// WithRegisterer enables Prometheus metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *clientOptions) { o.registerer = reg }
}

// WithClasses declares classes in addition to the configuration.
func WithClasses(classes ...schema.Class) Option {
	return func(o *clientOptions) { o.classes = append(o.classes, classes...) }
}

// New builds a client. Class declarations are applied in order: the
// config file, then the schema directory, then WithClasses; later
// declarations of a class win.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	o := clientOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{cfg: cfg, logger: o.logger, classes: make(map[string]schema.Class)}
	if o.registerer != nil {
		c.metrics = metrics.New(o.registerer)
	}

	c.blobs = o.blobs
	if c.blobs == nil {
		s, err := openBlobs(cfg)
		if err != nil {
			return nil, err
		}
		c.blobs, c.ownsBlobs = s, true
	}

	c.registry = localstore.NewRegistry(c.blobs,
		localstore.WithAppID(cfg.Server.ApplicationID),
		localstore.WithLogger(c.logger),
		localstore.WithPersistConcurrency(cfg.Cache.PersistConcurrency),
	)
	if err := c.declare(cfg, o.classes); err != nil {
		c.Close()
		return nil, err
	}

	c.transport = o.transport
	if c.transport == nil {
		c.transport = newHTTPTransport(cfg, c.logger)
	}

	c.engine = query.NewEngine(c.transport, c.registry,
		query.WithLogger(c.logger),
		query.WithMetrics(c.metrics),
		query.WithPageSize(cfg.Cache.PageSize),
		query.WithDefaultLimit(cfg.Cache.DefaultLimit),
	)
	c.fetcher = fetch.New(c.engine, c.registry,
		fetch.WithDelay(cfg.Cache.Debounce),
		fetch.WithTimeout(cfg.Server.Timeout),
		fetch.WithLogger(c.logger),
		fetch.WithMetrics(c.metrics),
	)
	c.relations = relation.New(c.engine, relation.WithLogger(c.logger), relation.WithMetrics(c.metrics))
	c.writer = operation.NewWriter(c.transport, c.registry,
		operation.WithRelations(c.relations),
		operation.WithLogger(c.logger),
	)
	return c, nil
}

func openBlobs(cfg *config.Config) (blob.Store, error) {
	if cfg.Cache.Backend != blob.KindMemory {
		if err := os.MkdirAll(cfg.Cache.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	path := cfg.BlobPath()
	s, err := blob.Open(cfg.Cache.Backend, path)
	if err != nil {
		return nil, fmt.Errorf("open %s cache at %s: %w", cfg.Cache.Backend, filepath.Clean(path), err)
	}
	return s, nil
}

func newHTTPTransport(cfg *config.Config, logger *slog.Logger) *transport.HTTPClient {
	opts := []transport.Option{
		transport.WithBaseURL(cfg.Server.URL),
		transport.WithTimeout(cfg.Server.Timeout),
		transport.WithRetry(cfg.Server.Retries, transport.DefaultRetryWaitMin, transport.DefaultRetryWaitMax),
		transport.WithLogger(logger),
	}
	if cfg.Server.RESTKey != "" {
		opts = append(opts, transport.WithRESTKey(cfg.Server.RESTKey))
	}
	if cfg.Server.MasterKey != "" {
		opts = append(opts, transport.WithMasterKey(cfg.Server.MasterKey))
	}
	if cfg.Server.SessionToken != "" {
		opts = append(opts, transport.WithSessionToken(cfg.Server.SessionToken))
	}
	return transport.NewHTTPClient(cfg.Server.ApplicationID, opts...)
}

func (c *Client) declare(cfg *config.Config, extra []schema.Class) error {
	var classes []schema.Class
	for name, cc := range cfg.Classes {
		classes = append(classes, schema.Class{Name: name, ExpireAfter: cc.ExpireAfter})
	}
	if cfg.SchemaDir != "" {
		loaded, err := schema.Load(cfg.SchemaDir)
		if err != nil {
			return fmt.Errorf("load schema: %w", err)
		}
		classes = append(classes, loaded...)
	}
	classes = append(classes, extra...)

	if err := schema.Register(c.registry, classes); err != nil {
		return err
	}
	for _, cl := range classes {
		c.classes[cl.Name] = cl
	}
	return nil
}

// Close releases the cache backend if the client opened it.
func (c *Client) Close() error {
	if c.ownsBlobs && c.blobs != nil {
		return c.blobs.Close()
	}
	return nil
}

// Class returns the declaration of a locally cached class.
func (c *Client) Class(name string) (Class, bool) {
	cl, ok := c.classes[name]
	return cl, ok
}

// Registry exposes the local stores.
func (c *Client) Registry() *localstore.Registry { return c.registry }

// Engine exposes the query engine.
func (c *Client) Engine() *query.Engine { return c.engine }

// Find runs q, locally when possible.
func (c *Client) Find(ctx context.Context, q Query) ([]Record, error) {
	return c.engine.Find(ctx, q)
}

// Count counts the matches of q.
func (c *Client) Count(ctx context.Context, q Query) (int, error) {
	return c.engine.Count(ctx, q)
}

// First returns the first match of q.
func (c *Client) First(ctx context.Context, q Query) (Record, bool, error) {
	return c.engine.First(ctx, q)
}

// Get fetches one object. Concurrent and closely spaced calls for the same
// class are merged into one request.
func (c *Client) Get(ctx context.Context, className, objectID string) (Record, error) {
	return c.fetcher.Fetch(ctx, className, objectID)
}

// GetAsync is Get with a callback, which may run on the calling goroutine
// when the object is cached.
func (c *Client) GetAsync(className, objectID string, cb func(Record, error)) {
	c.fetcher.Get(className, objectID, cb)
}

// Populate downloads every object of a registered class into the cache.
func (c *Client) Populate(ctx context.Context, className string) ([]Record, error) {
	return c.engine.Populate(ctx, className)
}

// Inspect reports the state of every local store.
func (c *Client) Inspect() ([]Report, error) {
	return c.registry.Inspect()
}

// Relation returns the members of owner's relation key in targetClass.
func (c *Client) Relation(ctx context.Context, key string, owner Pointer, targetClass string) (*Members, error) {
	return c.relations.Resolve(ctx, key, owner, targetClass)
}

// Referencing returns the objects of ownerClass whose key field points at
// target.
func (c *Client) Referencing(ctx context.Context, ownerClass, key string, target Pointer) (*Members, error) {
	return c.relations.OfOwner(ctx, ownerClass, key, target)
}

// Save creates or updates rec. Records of declared classes are checked
// against their field types first.
func (c *Client) Save(ctx context.Context, className string, rec Record) (Record, error) {
	if cl, ok := c.classes[className]; ok {
		if err := cl.Check(rec); err != nil {
			return Record{}, err
		}
	}
	return c.writer.Save(ctx, className, rec)
}

// Update applies ops to an existing object.
func (c *Client) Update(ctx context.Context, className, objectID string, ops ...Op) (Record, error) {
	return c.writer.Update(ctx, className, objectID, ops...)
}

// Delete removes an object.
func (c *Client) Delete(ctx context.Context, className, objectID string) error {
	return c.writer.Delete(ctx, className, objectID)
}

// Call runs a cloud function.
func (c *Client) Call(ctx context.Context, name string, params map[string]any) (any, error) {
	return c.writer.Call(ctx, name, params)
}

// TrackAppOpen records the AppOpened analytics event.
func (c *Client) TrackAppOpen(ctx context.Context) error {
	return c.writer.Event(ctx, "AppOpened", nil)
}
