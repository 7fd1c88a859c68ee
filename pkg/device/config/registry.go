// Package config loads the protocol declaration document and the user
// override document, and resolves discovered hardware to device definitions.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
	"github.com/urmzd/plugd/pkg/device/schema"
)

// SupportedMajor is the only document major version accepted.
const SupportedMajor = 4

var (
	//go:embed base.json
	defaultBase []byte
	//go:embed base.schema.json
	baseSchema []byte
	//go:embed user.schema.json
	userSchema []byte
)

var (
	// ErrConfig marks any configuration load or validation failure.
	ErrConfig = errors.New("invalid device configuration")

	// ErrVersion indicates a document with an unsupported major version.
	ErrVersion = errors.New("unsupported configuration version")

	// ErrUnknownProtocol indicates a reference to an undeclared protocol.
	ErrUnknownProtocol = errors.New("unknown protocol")
)

// featureNamespace seeds ids for features declared without one, so ids are
// stable across restarts.
var featureNamespace = uuid.MustParse("6f1c2d0e-5b9a-4f57-9a3e-2f4f1c6b8d21")

// Match is a protocol whose declared specifier matched a discovered device.
type Match struct {
	Protocol  string
	Specifier hardware.Specifier
}

type protocolEntry struct {
	name           string
	specifiers     []hardware.Specifier
	defaults       Attributes
	configurations []Configuration
}

// Registry resolves hardware to device definitions. It is safe for
// concurrent use; user configuration may change at runtime and applies to
// later connections only.
type Registry struct {
	protocols map[string]*protocolEntry
	names     []string
	allowRaw  bool
	validator *schema.Validator

	mu   sync.RWMutex
	user map[device.UserDeviceIdentifier]UserDeviceConfig
}

// Option configures Load.
type Option func(*Registry)

// WithRawAccess keeps raw endpoint features in definitions. Without it they
// are stripped.
func WithRawAccess(allow bool) Option {
	return func(r *Registry) { r.allowRaw = allow }
}

// Load parses and validates both documents. A nil base loads the embedded
// protocol document; a nil user document means no overrides.
func Load(base, user []byte, opts ...Option) (*Registry, error) {
	if base == nil {
		base = defaultBase
	}
	r := &Registry{
		protocols: make(map[string]*protocolEntry),
		validator: schema.NewValidator(),
		user:      make(map[device.UserDeviceIdentifier]UserDeviceConfig),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.loadBase(base); err != nil {
		return nil, err
	}
	if len(user) > 0 {
		if err := r.loadUser(user); err != nil {
			return nil, err
		}
	}

	log.Info().
		Int("protocols", len(r.protocols)).
		Int("user_devices", len(r.user)).
		Msg("Device configuration loaded")
	return r, nil
}

// LoadFiles reads the documents from disk. Empty paths fall back to the
// embedded base document and no user overrides.
func LoadFiles(basePath, userPath string, opts ...Option) (*Registry, error) {
	var base, user []byte
	var err error
	if basePath != "" {
		if base, err = os.ReadFile(basePath); err != nil {
			return nil, fmt.Errorf("%w: read base document: %v", ErrConfig, err)
		}
	}
	if userPath != "" {
		if user, err = os.ReadFile(userPath); err != nil {
			return nil, fmt.Errorf("%w: read user document: %v", ErrConfig, err)
		}
	}
	return Load(base, user, opts...)
}

func checkVersion(v Version, which string) error {
	if v.Major != SupportedMajor {
		return fmt.Errorf("%w: %w: %s document is v%d.%d, need v%d", ErrConfig, ErrVersion, which, v.Major, v.Minor, SupportedMajor)
	}
	return nil
}

func (r *Registry) loadBase(data []byte) error {
	if err := r.validator.ValidateDocument(baseSchema, data); err != nil {
		return fmt.Errorf("%w: base document: %v", ErrConfig, err)
	}
	var doc BaseDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: base document: %v", ErrConfig, err)
	}
	if err := checkVersion(doc.Version, "base"); err != nil {
		return err
	}

	for name, p := range doc.Protocols {
		entry := &protocolEntry{name: name}
		for i, c := range p.Communication {
			spec := c.Specifier()
			if spec == nil {
				return fmt.Errorf("%w: protocol %s: communication %d declares no transport", ErrConfig, name, i)
			}
			entry.specifiers = append(entry.specifiers, spec)
		}
		if p.Defaults != nil {
			entry.defaults = *p.Defaults
		}
		if err := assignIDs(name, "defaults", entry.defaults.Features); err != nil {
			return err
		}
		for i, c := range p.Configurations {
			if err := assignIDs(name, strconv.Itoa(i), c.Features); err != nil {
				return err
			}
			entry.configurations = append(entry.configurations, c)
		}
		r.protocols[name] = entry
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return nil
}

func assignIDs(protocol, set string, features []device.DeviceFeature) error {
	for i := range features {
		f := &features[i]
		if f.ID == uuid.Nil {
			f.ID = uuid.NewSHA1(featureNamespace, []byte(fmt.Sprintf("%s/%s/%d", protocol, set, i)))
		}
		if err := f.Validate(); err != nil {
			return fmt.Errorf("%w: protocol %s %s feature %d: %v", ErrConfig, protocol, set, i, err)
		}
	}
	return nil
}

func (r *Registry) loadUser(data []byte) error {
	if err := r.validator.ValidateDocument(userSchema, data); err != nil {
		return fmt.Errorf("%w: user document: %v", ErrConfig, err)
	}
	var doc UserDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: user document: %v", ErrConfig, err)
	}
	if err := checkVersion(doc.Version, "user"); err != nil {
		return err
	}
	for _, d := range doc.UserConfigs.Devices {
		if err := r.validateUser(d.Identifier, d.Config); err != nil {
			return err
		}
		r.user[d.Identifier] = d.Config
	}
	return nil
}

// baseFeatures returns every declared feature with id in protocol p.
func (e *protocolEntry) baseFeatures(id uuid.UUID) []device.DeviceFeature {
	var out []device.DeviceFeature
	collect := func(fs []device.DeviceFeature) {
		for _, f := range fs {
			if f.ID == id {
				out = append(out, f)
			}
		}
	}
	collect(e.defaults.Features)
	for _, c := range e.configurations {
		collect(c.Features)
	}
	return out
}

func (r *Registry) validateUser(id device.UserDeviceIdentifier, cfg UserDeviceConfig) error {
	entry, ok := r.protocols[id.Protocol]
	if !ok {
		return fmt.Errorf("%w: %w: user config for %s names %q", ErrConfig, ErrUnknownProtocol, id.Address, id.Protocol)
	}
	if cfg.Allow && cfg.Deny {
		return fmt.Errorf("%w: user config for %s both allows and denies", ErrConfig, id.Address)
	}
	for _, fo := range cfg.Features {
		bases := entry.baseFeatures(fo.ID)
		if len(bases) == 0 {
			return fmt.Errorf("%w: user config for %s: unknown feature %s", ErrConfig, id.Address, fo.ID)
		}
		for t, o := range fo.Output {
			if o.StepLimit == nil {
				continue
			}
			for _, base := range bases {
				props, ok := base.Output[t]
				if !ok {
					return fmt.Errorf("%w: user config for %s: feature %s has no %s output", ErrConfig, id.Address, fo.ID, t)
				}
				if !o.StepLimit.Valid() || !o.StepLimit.SubsetOf(props.StepRange) {
					return fmt.Errorf("%w: %w: user config for %s: %s limit %s outside %s",
						ErrConfig, device.ErrStepRange, id.Address, t, *o.StepLimit, props.StepRange)
				}
			}
		}
	}
	return nil
}

// ProtocolNames returns the declared protocols in sorted order.
func (r *Registry) ProtocolNames() []string {
	return append([]string(nil), r.names...)
}

// Specifiers returns the declared specifiers of every protocol for one
// transport. Transports use this to know which ports or names to probe.
func (r *Registry) Specifiers(t hardware.Transport) []Match {
	var out []Match
	for _, name := range r.names {
		for _, s := range r.protocols[name].specifiers {
			if s.Transport() == t {
				out = append(out, Match{Protocol: name, Specifier: s})
			}
		}
	}
	return out
}

// ProtocolsFor returns every protocol with a declared specifier matching the
// discovered one, in protocol name order.
func (r *Registry) ProtocolsFor(discovered hardware.Specifier) []Match {
	var out []Match
	for _, name := range r.names {
		for _, s := range r.protocols[name].specifiers {
			if s.Transport() == discovered.Transport() && s.Matches(discovered) {
				out = append(out, Match{Protocol: name, Specifier: s})
				break
			}
		}
	}
	return out
}

// attributes resolves the feature set: exact identifier, then hardware
// name pattern, then protocol defaults.
func (e *protocolEntry) attributes(identifier, hardwareName string) Attributes {
	if identifier != "" {
		for _, c := range e.configurations {
			if lo.Contains(c.Identifier, identifier) {
				return e.merge(c.Attributes)
			}
		}
	}
	for _, c := range e.configurations {
		if lo.ContainsBy(c.Identifier, func(p string) bool { return hardware.MatchName(p, hardwareName) }) {
			return e.merge(c.Attributes)
		}
	}
	return e.defaults
}

func (e *protocolEntry) merge(a Attributes) Attributes {
	if a.Name == "" {
		a.Name = e.defaults.Name
	}
	if a.MessageGapMS == nil {
		a.MessageGapMS = e.defaults.MessageGapMS
	}
	if len(a.Features) == 0 {
		a.Features = e.defaults.Features
	}
	return a
}

// Definition builds a fresh device definition. Base declarations are
// cloned, never modified.
func (r *Registry) Definition(id device.UserDeviceIdentifier, hardwareName string) (*device.DeviceDefinition, error) {
	entry, ok := r.protocols[id.Protocol]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, id.Protocol)
	}
	attrs := entry.attributes(id.Identifier, hardwareName)

	def := &device.DeviceDefinition{
		ID:         uuid.NewSHA1(featureNamespace, []byte(id.String())),
		Name:       lo.Ternary(attrs.Name != "", attrs.Name, hardwareName),
		Protocol:   id.Protocol,
		Identifier: id.Identifier,
		Address:    id.Address,
		Features:   device.CloneFeatures(attrs.Features),
	}
	if attrs.MessageGapMS != nil {
		def.MessageGap = time.Duration(*attrs.MessageGapMS) * time.Millisecond
	}
	if !r.allowRaw {
		for i := range def.Features {
			def.Features[i].Raw = nil
		}
	}

	cfg, ok := r.userConfig(id)
	if !ok {
		return def, nil
	}
	def.DisplayName = cfg.DisplayName
	def.Allow = cfg.Allow
	def.Deny = cfg.Deny
	if cfg.MessageGapMS != nil {
		def.MessageGap = time.Duration(*cfg.MessageGapMS) * time.Millisecond
	}
	for _, fo := range cfg.Features {
		_, f, ok := def.FeatureByID(fo.ID)
		if !ok {
			// The override targets a feature of another variant.
			continue
		}
		for t, o := range fo.Output {
			props, ok := f.Output[t]
			if !ok || o.StepLimit == nil {
				continue
			}
			limit := *o.StepLimit
			props.StepLimit = &limit
			f.Output[t] = props
		}
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfig, id, err)
	}
	return def, nil
}

// userConfig finds the override for id. An entry without an identifier
// applies to every variant at that address.
func (r *Registry) userConfig(id device.UserDeviceIdentifier) (UserDeviceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cfg, ok := r.user[id]; ok {
		return cfg, true
	}
	generic := id
	generic.Identifier = ""
	cfg, ok := r.user[generic]
	return cfg, ok
}

// Denied reports whether any user config denies address.
func (r *Registry) Denied(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, cfg := range r.user {
		if id.Address == address && cfg.Deny {
			return true
		}
	}
	return false
}

// Allowed reports whether address may connect. Once any device is
// explicitly allowed, only allowed devices connect.
func (r *Registry) Allowed(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	anyAllow := false
	for id, cfg := range r.user {
		if !cfg.Allow {
			continue
		}
		anyAllow = true
		if id.Address == address {
			return true
		}
	}
	return !anyAllow
}

// ReservedIndex returns a user-pinned device index for address.
func (r *Registry) ReservedIndex(address string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, cfg := range r.user {
		if id.Address == address && cfg.Index != nil {
			return *cfg.Index, true
		}
	}
	return 0, false
}

// SetUserConfig validates and stores an override. Live devices keep their
// current definition.
func (r *Registry) SetUserConfig(id device.UserDeviceIdentifier, cfg UserDeviceConfig) error {
	if err := r.validateUser(id, cfg); err != nil {
		return err
	}
	r.mu.Lock()
	r.user[id] = cfg
	r.mu.Unlock()
	return nil
}

// RemoveUserConfig drops an override.
func (r *Registry) RemoveUserConfig(id device.UserDeviceIdentifier) {
	r.mu.Lock()
	delete(r.user, id)
	r.mu.Unlock()
}

// UserConfigs returns every stored override sorted by address.
func (r *Registry) UserConfigs() []UserDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]UserDevice, 0, len(r.user))
	for id, cfg := range r.user {
		out = append(out, UserDevice{Identifier: id, Config: cfg})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identifier.String() < out[j].Identifier.String()
	})
	return out
}
