package mapping

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/devicebridge/ha-connector-go/internal/model"
	"github.com/devicebridge/ha-connector-go/internal/transformers"
)

//go:embed defaults/*.yaml
var builtinFiles embed.FS

// File priorities separate the built-in layer from user overrides. A user
// rule always outranks a built-in rule of the same declared priority.
const (
	builtinFilePriority = 0
	userFilePriority    = 1000
)

// LoadError records a mapping file that failed to load. The file contributes
// nothing; loading the remaining files continues.
type LoadError struct {
	File string
	Err  error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("mapping file %s: %v", e.File, e.Err)
}

// Service owns the merged rule set, domain roles, derivation registry and
// virtual property definitions. Loading is not re-entrant; callers must not
// overlap LoadAll/Reload calls.
type Service struct {
	logger       *logrus.Logger
	transformers *transformers.Registry
	validator    *Validator
	userDir      string

	mu          sync.RWMutex
	rules       map[string][]Rule
	roles       map[string]DomainRole
	derivations map[string]DerivationRule
	virtuals    map[model.ChannelCategory][]VirtualPropertyDefinition
	loadErrors  []LoadError
}

// NewService creates a mapping service. userDir may be empty to load only the
// built-in documents.
func NewService(userDir string, registry *transformers.Registry, logger *logrus.Logger) (*Service, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to build mapping validator: %w", err)
	}

	return &Service{
		logger:       logger,
		transformers: registry,
		validator:    validator,
		userDir:      userDir,
		rules:        make(map[string][]Rule),
		roles:        make(map[string]DomainRole),
		derivations:  make(map[string]DerivationRule),
		virtuals:     make(map[model.ChannelCategory][]VirtualPropertyDefinition),
	}, nil
}

type loadState struct {
	rules        map[string][]Rule
	roles        map[string]DomainRole
	derivations  map[string]DerivationRule
	virtuals     map[model.ChannelCategory][]VirtualPropertyDefinition
	transformers map[string]transformers.Definition
	errors       []LoadError
}

// LoadAll clears all rule, virtual-property and domain-role state, then loads
// built-in documents followed by user override files (recursively discovered).
func (s *Service) LoadAll() error {
	state := &loadState{
		rules:        make(map[string][]Rule),
		roles:        make(map[string]DomainRole),
		derivations:  make(map[string]DerivationRule),
		virtuals:     make(map[model.ChannelCategory][]VirtualPropertyDefinition),
		transformers: make(map[string]transformers.Definition),
	}

	s.loadBuiltin(state)
	s.loadUserDir(state)

	for domain := range state.rules {
		rules := state.rules[domain]
		sort.SliceStable(rules, func(i, j int) bool {
			return rules[i].EffectivePriority() > rules[j].EffectivePriority()
		})
		state.rules[domain] = rules
	}

	s.transformers.Clear()
	for name, def := range state.transformers {
		if err := s.transformers.Register(name, def); err != nil {
			state.errors = append(state.errors, LoadError{File: "transformers", Err: err})
		}
	}

	s.mu.Lock()
	s.rules = state.rules
	s.roles = state.roles
	s.derivations = state.derivations
	s.virtuals = state.virtuals
	s.loadErrors = state.errors
	s.mu.Unlock()

	ruleCount := 0
	for _, rules := range state.rules {
		ruleCount += len(rules)
	}
	s.logger.WithFields(logrus.Fields{
		"rules":       ruleCount,
		"domains":     len(state.rules),
		"derivations": len(state.derivations),
		"load_errors": len(state.errors),
	}).Info("Loaded mapping configuration")

	return nil
}

// Reload is an alias for LoadAll; it is idempotent but not safe to call
// concurrently with itself.
func (s *Service) Reload() error {
	return s.LoadAll()
}

func (s *Service) loadBuiltin(state *loadState) {
	entries, err := fs.ReadDir(builtinFiles, "defaults")
	if err != nil {
		state.errors = append(state.errors, LoadError{File: "defaults", Err: err})
		return
	}

	for _, entry := range entries {
		name := "defaults/" + entry.Name()
		data, err := builtinFiles.ReadFile(name)
		if err != nil {
			state.errors = append(state.errors, LoadError{File: name, Err: err})
			continue
		}
		s.loadDocument(name, data, builtinFilePriority, state)
	}
}

func (s *Service) loadUserDir(state *loadState) {
	if s.userDir == "" {
		return
	}
	if _, err := os.Stat(s.userDir); os.IsNotExist(err) {
		s.logger.WithField("dir", s.userDir).Debug("User mapping directory does not exist, skipping")
		return
	}

	err := filepath.WalkDir(s.userDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
		default:
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			state.errors = append(state.errors, LoadError{File: path, Err: readErr})
			return nil
		}
		s.loadDocument(path, data, userFilePriority, state)
		return nil
	})
	if err != nil {
		state.errors = append(state.errors, LoadError{File: s.userDir, Err: err})
	}
}

// loadDocument parses, schema-validates and merges one mapping file. A file
// that fails validation contributes zero rules and is recorded as a load
// error.
func (s *Service) loadDocument(name string, data []byte, filePriority int, state *loadState) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		s.recordLoadError(state, name, fmt.Errorf("parse error: %w", err))
		return
	}

	doc := normalizeForSchema(raw)
	top, ok := doc.(map[string]any)
	if !ok {
		s.recordLoadError(state, name, fmt.Errorf("document root must be a mapping"))
		return
	}

	switch {
	case hasKey(top, "mappings"):
		s.mergeMappingsDocument(name, doc, filePriority, state)
	case hasKey(top, "derivations") || hasKey(top, "virtual_properties"):
		s.mergeVirtualsDocument(name, doc, state)
	default:
		s.recordLoadError(state, name, fmt.Errorf("unrecognized document shape (expected mappings or virtual_properties)"))
	}
}

func (s *Service) mergeMappingsDocument(name string, doc any, filePriority int, state *loadState) {
	if err := s.validator.ValidateMappings(doc); err != nil {
		s.recordLoadError(state, name, err)
		return
	}

	var parsed MappingsDocument
	if err := decodeStrict(doc, &parsed); err != nil {
		s.recordLoadError(state, name, err)
		return
	}

	for _, rule := range parsed.Mappings {
		rule.filePriority = filePriority
		state.rules[rule.Domain] = append(state.rules[rule.Domain], rule)
	}
	for transformerName, def := range parsed.Transformers {
		state.transformers[transformerName] = def
	}
	if parsed.DomainRoles != nil {
		for _, domain := range parsed.DomainRoles.Primary {
			state.roles[domain] = RolePrimary
		}
		for _, domain := range parsed.DomainRoles.Secondary {
			state.roles[domain] = RoleSecondary
		}
		for _, domain := range parsed.DomainRoles.Standalone {
			state.roles[domain] = RoleStandalone
		}
	}

	s.logger.WithFields(logrus.Fields{
		"file":  name,
		"rules": len(parsed.Mappings),
	}).Debug("Loaded mappings document")
}

func (s *Service) mergeVirtualsDocument(name string, doc any, state *loadState) {
	if err := s.validator.ValidateVirtuals(doc); err != nil {
		s.recordLoadError(state, name, err)
		return
	}

	var parsed VirtualsDocument
	if err := decodeStrict(doc, &parsed); err != nil {
		s.recordLoadError(state, name, err)
		return
	}

	for derivationName, rule := range parsed.Derivations {
		state.derivations[derivationName] = rule
	}
	for category, definitions := range parsed.VirtualProperties {
		state.virtuals[category] = append(state.virtuals[category], definitions...)
	}

	s.logger.WithFields(logrus.Fields{
		"file":        name,
		"derivations": len(parsed.Derivations),
	}).Debug("Loaded virtual properties document")
}

func (s *Service) recordLoadError(state *loadState, file string, err error) {
	state.errors = append(state.errors, LoadError{File: file, Err: err})
	s.logger.WithError(err).WithField("file", file).Error("Rejected mapping file")
}

// FindMatchingMapping returns the highest-priority rule accepting the
// (domain, deviceClass, entityID) triple, or nil when no rule matches.
//
// Rules with an entity_id_contains constraint are gated on a case-insensitive
// substring match: a non-matching entity id skips the rule entirely. Any-class
// rules are held back as a final fallback behind every class-specific rule.
func (s *Service) FindMatchingMapping(domain, deviceClass, entityID string) *Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fallback *Rule
	loweredEntity := strings.ToLower(entityID)

	for i := range s.rules[domain] {
		rule := &s.rules[domain][i]

		if rule.EntityIDContains != "" {
			if entityID == "" || !strings.Contains(loweredEntity, strings.ToLower(rule.EntityIDContains)) {
				continue
			}
		}

		if rule.IsAnyClass() {
			if fallback == nil {
				fallback = rule
			}
			continue
		}

		if rule.MatchesClass(deviceClass) {
			return rule
		}
	}

	return fallback
}

// DomainRole returns the configured role for a domain, defaulting to
// secondary for unknown domains.
func (s *Service) DomainRole(domain string) DomainRole {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if role, ok := s.roles[domain]; ok {
		return role
	}
	return RoleSecondary
}

func (s *Service) IsPrimaryDomain(domain string) bool {
	return s.DomainRole(domain) == RolePrimary
}

func (s *Service) IsStandaloneDomain(domain string) bool {
	return s.DomainRole(domain) == RoleStandalone
}

// Derivation looks up a registered derivation rule by name.
func (s *Service) Derivation(name string) (DerivationRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.derivations[name]
	return rule, ok
}

// VirtualProperties returns the virtual property definitions for a channel
// category.
func (s *Service) VirtualProperties(category model.ChannelCategory) []VirtualPropertyDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.virtuals[category]
}

// LoadErrors returns the files rejected during the last load.
func (s *Service) LoadErrors() []LoadError {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]LoadError, len(s.loadErrors))
	copy(out, s.loadErrors)
	return out
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// decodeStrict converts a schema-validated document into its typed form via a
// JSON round trip, rejecting unknown fields the schema missed.
func decodeStrict(doc any, target any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to re-encode document: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}
