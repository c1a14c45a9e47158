// Package session ties the runtime together into a unit of work: it
// owns the state manager that tracks loaded and attached entities, the
// query provider that materializes them, and the save pipeline that
// turns their changes into batched commands.
//
//	s, err := session.Open(model, "file:blog.db", session.WithOptions(opts))
//	if err != nil {
//	    return err
//	}
//	blog := &Blog{Title: "Go"}
//	if err := s.Add(blog); err != nil {
//	    return err
//	}
//	if _, err := s.SaveChanges(ctx); err != nil {
//	    return err
//	}
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/syssam/veloxrt"
	"github.com/syssam/veloxrt/config"
	"github.com/syssam/veloxrt/contrib/dataloader"
	"github.com/syssam/veloxrt/diagnostics"
	"github.com/syssam/veloxrt/dialect"
	"github.com/syssam/veloxrt/dialect/sql"
	"github.com/syssam/veloxrt/dialect/sql/schema"
	"github.com/syssam/veloxrt/identity"
	"github.com/syssam/veloxrt/logging"
	"github.com/syssam/veloxrt/metadata"
	"github.com/syssam/veloxrt/privacy"
	"github.com/syssam/veloxrt/query"
	"github.com/syssam/veloxrt/storage"
	"github.com/syssam/veloxrt/tracking"
)

// Session is a unit of work over one model. It is not safe for
// concurrent use.
type Session struct {
	model    *metadata.Model
	opts     *config.Options
	drv      dialect.Driver
	db       *sql.Driver
	source   storage.Source
	sm       *tracking.StateManager
	provider *query.Provider
	emitter  *diagnostics.Emitter
	policy   veloxrt.Policy
	logger   *slog.Logger
	loaders  map[string]*dataloader.Loader[identity.EntityKey, any]
}

type settings struct {
	opts      *config.Options
	drv       dialect.Driver
	source    storage.Source
	listeners []diagnostics.Listener
	policies  []veloxrt.Policy
	logger    *slog.Logger
	tp        trace.TracerProvider
	reg       prometheus.Registerer
}

// Option configures a Session.
type Option func(*settings)

// WithOptions sets the runtime options. Defaults are config.Default().
func WithOptions(o *config.Options) Option {
	return func(s *settings) { s.opts = o }
}

// WithDriver sets the driver changes are saved through. Unless a source
// is set, queries read through it as well.
func WithDriver(drv dialect.Driver) Option {
	return func(s *settings) { s.drv = drv }
}

// WithSource sets the row source queries read from.
func WithSource(src storage.Source) Option {
	return func(s *settings) { s.source = src }
}

// WithListeners adds diagnostics listeners.
func WithListeners(ls ...diagnostics.Listener) Option {
	return func(s *settings) { s.listeners = append(s.listeners, ls...) }
}

// WithPolicy adds a privacy policy evaluated before each query and each
// modification command.
func WithPolicy(p veloxrt.Policy) Option {
	return func(s *settings) { s.policies = append(s.policies, p) }
}

// WithLogger sets the logger. By default one is built from the logging
// options.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithTracerProvider records a span for every batch, and for every
// statement when the session opens its own driver.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) { s.tp = tp }
}

// WithMetrics registers the runtime's metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *settings) { s.reg = reg }
}

// Open opens a driver for the configured dialect and returns a session
// over it.
func Open(model *metadata.Model, dataSource string, opts ...Option) (*Session, error) {
	st := apply(opts)
	var (
		drv *sql.Driver
		err error
	)
	if st.tp != nil {
		drv, err = sql.OpenTraced(st.opts.Dialect, dataSource, st.tp)
	} else {
		drv, err = sql.Open(st.opts.Dialect, dataSource)
	}
	if err != nil {
		return nil, veloxrt.NewStoreError("open", err)
	}
	return New(model, append(opts, WithDriver(drv))...)
}

func apply(opts []Option) *settings {
	st := &settings{}
	for _, opt := range opts {
		opt(st)
	}
	if st.opts == nil {
		st.opts = config.Default()
	}
	return st
}

// New returns a session over model.
func New(model *metadata.Model, opts ...Option) (*Session, error) {
	if model == nil {
		return nil, veloxrt.NewValidationError("model", errors.New("model is nil"))
	}
	st := apply(opts)
	if err := st.opts.Validate(); err != nil {
		return nil, err
	}
	if st.drv == nil && st.source == nil {
		return nil, errors.New("session: a driver or a row source is required")
	}
	logger := st.logger
	if logger == nil {
		logger = logging.NewLogger(st.opts.Log)
	}

	listeners := append([]diagnostics.Listener{diagnostics.NewSlogListener(logger)}, st.listeners...)
	if st.tp != nil {
		listeners = append(listeners, diagnostics.NewTracingListener(st.tp))
	}
	if st.reg != nil {
		m, err := diagnostics.NewMetricsListener(st.reg)
		if err != nil {
			return nil, fmt.Errorf("session: register metrics: %w", err)
		}
		listeners = append(listeners, m)
	}

	s := &Session{
		model:   model,
		opts:    st.opts,
		drv:     st.drv,
		source:  st.source,
		emitter: diagnostics.NewEmitter(listeners, diagnostics.WithLogger(logger)),
		logger:  logger,
		loaders: make(map[string]*dataloader.Loader[identity.EntityKey, any]),
	}
	s.db, _ = s.drv.(*sql.Driver)
	if s.drv != nil && st.opts.SlowBatchThreshold > 0 {
		s.drv = sql.NewStatsDriver(s.drv, sql.WithSlowThreshold(st.opts.SlowBatchThreshold), sql.WithLogger(logger))
	}
	if s.source == nil {
		s.source = storage.NewSQLSource(s.drv, s.drv.Dialect())
	}
	if len(st.policies) > 0 {
		s.policy = privacy.NewPolicies(st.policies...)
	}
	s.sm = tracking.NewStateManager(model,
		tracking.WithKeyFactory(identity.NewKeyFactory(st.opts.NullKeys())),
		tracking.WithLogger(logger),
	)
	popts := []query.ProviderOption{
		query.WithStateManager(s.sm),
		query.WithEmitter(s.emitter),
		query.WithLogger(logger),
		query.WithTracking(st.opts.Tracking),
		query.WithPlanCache(nil),
	}
	if st.opts.QueryCacheSize > 0 {
		popts[len(popts)-1] = query.WithPlanCache(query.NewPlanCache(st.opts.QueryCacheSize))
	}
	if s.policy != nil {
		popts = append(popts, query.WithPolicy(s.policy))
	}
	s.provider = query.NewProvider(model, s.source, popts...)
	return s, nil
}

// Model returns the metadata model.
func (s *Session) Model() *metadata.Model { return s.model }

// StateManager returns the state manager tracking the session's entities.
func (s *Session) StateManager() *tracking.StateManager { return s.sm }

// Provider returns the query provider.
func (s *Session) Provider() *query.Provider { return s.provider }

// Driver returns the driver changes are saved through, or nil.
func (s *Session) Driver() dialect.Driver { return s.drv }

// Close closes the driver.
func (s *Session) Close() error {
	if s.drv == nil {
		return nil
	}
	return s.drv.Close()
}

// CreateSchema creates the tables of the model missing in the database.
func (s *Session) CreateSchema(ctx context.Context, opts ...schema.Option) error {
	if s.db == nil {
		return errNoDatabase
	}
	return schema.Create(ctx, s.db, s.model, opts...)
}

// ValidateSchema checks that the database holds the tables and columns of
// the model.
func (s *Session) ValidateSchema(ctx context.Context, opts ...schema.Option) (*schema.ValidationResult, error) {
	if s.db == nil {
		return nil, errNoDatabase
	}
	return schema.Validate(ctx, s.db, s.model, opts...)
}

var errNoDatabase = errors.New("session: schema operations require a database/sql driver")

// Entry returns the tracking entry of entity.
func (s *Session) Entry(entity any) (*tracking.Entry, bool) {
	return s.sm.Entry(entity)
}

// Add tracks entity as Added; it is inserted by the next save.
func (s *Session) Add(entity any) error {
	_, err := s.sm.Track(entity, veloxrt.Added)
	return err
}

// Attach tracks entity as Unchanged.
func (s *Session) Attach(entity any) error {
	_, err := s.sm.Track(entity, veloxrt.Unchanged)
	return err
}

// Update tracks entity as Modified with every writable property marked
// modified.
func (s *Session) Update(entity any) error {
	e, err := s.sm.Track(entity, veloxrt.Modified)
	if err != nil {
		return err
	}
	for _, p := range e.EntityType().Properties() {
		if !p.IsKey() && !p.GeneratedOnUpdate() {
			e.MarkModified(p)
		}
	}
	return nil
}

// Remove marks entity Deleted. Removing an Added entity detaches it.
func (s *Session) Remove(entity any) error {
	_, err := s.sm.Track(entity, veloxrt.Deleted)
	return err
}
