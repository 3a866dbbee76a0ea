package keys

import (
	"regexp"
	"sync"
	"unicode"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"
)

// IDKey is the storage and logical name of the document identifier.
const IDKey = "_id"

var keyNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reserved names would shadow document behaviour.
var reserved = map[string]struct{}{
	"attributes": {},
	"save":       {},
	"destroy":    {},
	"delete":     {},
	"reload":     {},
	"errors":     {},
	"valid":      {},
	"new":        {},
	"id":         {},
	"query":      {},
}

// Options configures a key at registration time.
type Options struct {
	// Alias is the storage key. Abbr is accepted as a synonym; Alias wins.
	Alias string
	Abbr  string

	Required bool
	Default  any // a value or a func() any evaluated per document
	Index    bool
	Unique   bool

	Validators []validation.Rule
}

// Key is a registered field definition.
type Key struct {
	Name       string
	StorageKey string
	Type       Type
	Options    Options

	// Accessor is the name used for attribute access. It equals Name unless
	// Name starts with an uppercase letter.
	Accessor string
}

// DefaultValue evaluates the configured default.
func (k *Key) DefaultValue() any {
	switch d := k.Options.Default.(type) {
	case nil:
		return nil
	case func() any:
		return d()
	default:
		if k.Type == TypeAny {
			return d
		}
		if v, err := k.Type.Cast(d); err == nil {
			return v
		}
		return d
	}
}

// Aliased reports whether the storage key differs from the name.
func (k *Key) Aliased() bool {
	return k.StorageKey != k.Name
}

// IndexRequest is a deferred index creation queued by a key registration.
type IndexRequest struct {
	Key    string // storage key
	Unique bool
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for registration warnings.
func WithLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithStatic enables static-key mode.
func WithStatic(static bool) RegistryOption {
	return func(r *Registry) { r.static = static }
}

// Registry maps logical field names to storage keys and casters for one
// document type. Lookups are O(1).
type Registry struct {
	mu         sync.RWMutex
	model      string
	keys       map[string]*Key
	order      []string
	byStorage  map[string]string
	byAccessor map[string]string
	validators map[string][]validation.Rule
	indexes    []IndexRequest
	static     bool
	logger     zerolog.Logger
}

// NewRegistry creates an empty registry for the named model.
func NewRegistry(model string, opts ...RegistryOption) *Registry {
	r := &Registry{
		model:      model,
		keys:       make(map[string]*Key),
		byStorage:  make(map[string]string),
		byAccessor: make(map[string]string),
		validators: make(map[string][]validation.Rule),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Model returns the model name the registry belongs to.
func (r *Registry) Model() string {
	return r.model
}

// Register records a key definition. Registering an existing name replaces
// the previous definition and its validators.
func (r *Registry) Register(name string, typ Type, opts Options) (*Key, error) {
	if name == "" {
		return nil, &InvalidKeyError{Model: r.model, Key: name, Reason: "name is empty"}
	}
	if _, ok := reserved[name]; ok {
		return nil, &InvalidKeyError{Model: r.model, Key: name, Reason: "name is reserved"}
	}
	if !keyNamePattern.MatchString(name) {
		return nil, &InvalidKeyError{Model: r.model, Key: name, Reason: "name must be a valid identifier"}
	}

	storage := name
	if opts.Abbr != "" {
		storage = opts.Abbr
	}
	if opts.Alias != "" {
		storage = opts.Alias
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byStorage[storage]; ok && owner != name {
		return nil, &InvalidKeyError{Model: r.model, Key: name, Reason: "storage key " + storage + " already used by " + owner}
	}

	if _, exists := r.keys[name]; exists {
		r.removeLocked(name)
	}

	key := &Key{
		Name:       name,
		StorageKey: storage,
		Type:       typ,
		Options:    opts,
		Accessor:   name,
	}

	if first, size := utf8.DecodeRuneInString(name); unicode.IsUpper(first) {
		key.Accessor = string(unicode.ToLower(first)) + name[size:]
		r.logger.Warn().
			Str("model", r.model).
			Str("key", name).
			Str("accessor", key.Accessor).
			Msg("key names should start with a lowercase letter, accessor normalized")
	}

	r.keys[name] = key
	r.order = append(r.order, name)
	r.byStorage[storage] = name
	r.byAccessor[key.Accessor] = name

	var rules []validation.Rule
	if opts.Required {
		rules = append(rules, validation.Required)
	}
	rules = append(rules, opts.Validators...)
	if len(rules) > 0 {
		r.validators[name] = rules
	}

	if opts.Index || opts.Unique {
		r.indexes = append(r.indexes, IndexRequest{Key: storage, Unique: opts.Unique})
	}

	return key, nil
}

// Remove unregisters a key together with its validators and any pending
// index request. It reports whether the key existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(name)
}

func (r *Registry) removeLocked(name string) bool {
	key, ok := r.keys[name]
	if !ok {
		return false
	}

	delete(r.keys, name)
	delete(r.byStorage, key.StorageKey)
	delete(r.byAccessor, key.Accessor)
	delete(r.validators, name)

	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}

	kept := r.indexes[:0]
	for _, req := range r.indexes {
		if req.Key != key.StorageKey {
			kept = append(kept, req)
		}
	}
	r.indexes = kept

	return true
}

// Key returns the key registered under name or accessor.
func (r *Registry) Key(name string) (*Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(name)
}

func (r *Registry) lookupLocked(name string) (*Key, bool) {
	if k, ok := r.keys[name]; ok {
		return k, true
	}
	if n, ok := r.byAccessor[name]; ok {
		return r.keys[n], true
	}
	return nil, false
}

// Has reports whether a key is registered under name or accessor.
func (r *Registry) Has(name string) bool {
	_, ok := r.Key(name)
	return ok
}

// StorageKey returns the alias for name if one is configured, else name.
func (r *Registry) StorageKey(name string) string {
	if k, ok := r.Key(name); ok {
		return k.StorageKey
	}
	return name
}

// KeyType returns the type of a registered key.
func (r *Registry) KeyType(name string) (Type, bool) {
	if k, ok := r.Key(name); ok {
		return k.Type, true
	}
	return TypeAny, false
}

// NameFor maps a storage key back to its logical name.
func (r *Registry) NameFor(storageKey string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n, ok := r.byStorage[storageKey]; ok {
		return n
	}
	return storageKey
}

// Keys returns the keys in registration order.
func (r *Registry) Keys() []*Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Key, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.keys[n])
	}
	return out
}

// Names returns the logical key names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Static reports whether static-key mode is enabled.
func (r *Registry) Static() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.static
}

// SetStatic toggles static-key mode.
func (r *Registry) SetStatic(static bool) {
	r.mu.Lock()
	r.static = static
	r.mu.Unlock()
}

// CheckKey returns a MissingKeyError when static mode is on and name is not
// registered.
func (r *Registry) CheckKey(name string) error {
	if !r.Static() || name == IDKey || r.Has(name) {
		return nil
	}
	return &MissingKeyError{Model: r.model, Key: name}
}

// AddValidator attaches extra rules to a registered key.
func (r *Registry) AddValidator(name string, rules ...validation.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.lookupLocked(name)
	if !ok {
		return &MissingKeyError{Model: r.model, Key: name}
	}
	r.validators[k.Name] = append(r.validators[k.Name], rules...)
	return nil
}

// Validators returns the rules attached to a key.
func (r *Registry) Validators(name string) []validation.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]validation.Rule(nil), r.validators[name]...)
}

// Validate runs every key's rules against values, keyed by logical name.
// The result is nil or a validation.Errors.
func (r *Registry) Validate(values map[string]any) error {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	rules := make(map[string][]validation.Rule, len(r.validators))
	for n, v := range r.validators {
		rules[n] = v
	}
	r.mu.RUnlock()

	errs := validation.Errors{}
	for _, n := range names {
		if len(rules[n]) == 0 {
			continue
		}
		errs[n] = validation.Validate(values[n], rules[n]...)
	}
	return errs.Filter()
}

// IndexRequests returns the queued index requests.
func (r *Registry) IndexRequests() []IndexRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]IndexRequest(nil), r.indexes...)
}

// Clone copies the registry under a new model name. Subtypes in a single
// collection hierarchy start from a clone of their parent.
func (r *Registry) Clone(model string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := NewRegistry(model, WithLogger(r.logger), WithStatic(r.static))
	for _, n := range r.order {
		k := *r.keys[n]
		c.keys[n] = &k
		c.order = append(c.order, n)
		c.byStorage[k.StorageKey] = n
		c.byAccessor[k.Accessor] = n
		if v := r.validators[n]; len(v) > 0 {
			c.validators[n] = append([]validation.Rule(nil), v...)
		}
	}
	c.indexes = append(c.indexes, r.indexes...)
	return c
}
