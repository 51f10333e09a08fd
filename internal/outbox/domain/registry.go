package domain

import (
	"fmt"
	"log/slog"
	"sort"

	validation "github.com/jellydator/validation"

	"github.com/allisson/outboxd/internal/errors"
	customValidation "github.com/allisson/outboxd/internal/validation"
)

// EventCatalog reports which event names some procedure can emit.
type EventCatalog interface {
	Has(eventName string) bool
}

// Validate checks the definition fields.
func (d Definition) Validate() error {
	err := validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.Required, customValidation.EventName, validation.Length(1, 255)),
		validation.Field(&d.On, validation.Required, customValidation.EventName, validation.Length(1, 255)),
		validation.Field(&d.Consumer, validation.NotNil),
		validation.Field(&d.Timeout, validation.Min(0)),
	)
	if err != nil {
		return errors.Wrap(ErrInvalidConsumer, err.Error())
	}
	return nil
}

// RegistryBuilder collects consumer definitions before the dispatcher starts.
type RegistryBuilder struct {
	defs    []Definition
	byName  map[string]struct{}
	catalog EventCatalog
	logger  *slog.Logger
}

// RegistryOption configures a RegistryBuilder.
type RegistryOption func(*RegistryBuilder)

// WithEventCatalog makes Build warn about consumers bound to events no procedure emits.
func WithEventCatalog(catalog EventCatalog) RegistryOption {
	return func(b *RegistryBuilder) {
		b.catalog = catalog
	}
}

// WithRegistryLogger sets the logger used for registration warnings.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(b *RegistryBuilder) {
		b.logger = logger
	}
}

// NewRegistryBuilder creates an empty builder.
func NewRegistryBuilder(opts ...RegistryOption) *RegistryBuilder {
	b := &RegistryBuilder{
		byName: make(map[string]struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterConsumer adds a consumer. Consumer names are unique across the registry.
func (b *RegistryBuilder) RegisterConsumer(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, exists := b.byName[def.Name]; exists {
		return errors.Wrap(ErrConsumerAlreadyRegistered, def.Name)
	}
	b.byName[def.Name] = struct{}{}
	b.defs = append(b.defs, def)
	return nil
}

// MustRegisterConsumer is like RegisterConsumer but panics on error.
func (b *RegistryBuilder) MustRegisterConsumer(def Definition) {
	if err := b.RegisterConsumer(def); err != nil {
		panic(fmt.Sprintf("register consumer %q: %v", def.Name, err))
	}
}

// Build returns an immutable registry. Consumers bound to event names that are not in
// the catalog are kept, and a warning is logged for each.
func (b *RegistryBuilder) Build() *Registry {
	r := &Registry{
		byEvent: make(map[string][]Definition),
		byName:  make(map[string]Definition, len(b.defs)),
	}
	for _, def := range b.defs {
		if b.catalog != nil && !b.catalog.Has(def.On) {
			b.logger.Warn("consumer subscribes to an event no procedure emits",
				slog.String("consumer", def.Name),
				slog.String("event_name", def.On),
			)
		}
		r.byEvent[def.On] = append(r.byEvent[def.On], def)
		r.byName[def.Name] = def
	}
	return r
}

// Registry maps event names to consumer definitions. It is read-only after Build and
// safe for concurrent use.
type Registry struct {
	byEvent map[string][]Definition
	byName  map[string]Definition
}

// NewRegistry builds a registry from definitions in one call.
func NewRegistry(defs []Definition, opts ...RegistryOption) (*Registry, error) {
	b := NewRegistryBuilder(opts...)
	for _, def := range defs {
		if err := b.RegisterConsumer(def); err != nil {
			return nil, err
		}
	}
	return b.Build(), nil
}

// For returns the consumers subscribed to eventName in registration order.
func (r *Registry) For(eventName string) []Definition {
	defs := r.byEvent[eventName]
	out := make([]Definition, len(defs))
	copy(out, defs)
	return out
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	def, ok := r.byName[name]
	return def, ok
}

// Names returns every consumer name, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered consumers.
func (r *Registry) Len() int {
	return len(r.byName)
}
