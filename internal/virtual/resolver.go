package virtual

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/mapping"
	"github.com/devicebridge/ha-connector-go/internal/model"
)

// EntityContext carries the live entity data a derivation can draw on.
type EntityContext struct {
	EntityID    string
	State       string
	DeviceClass string
	Attributes  map[string]any
}

// NumericState parses the entity's main state as a number.
func (c EntityContext) NumericState() (float64, bool) {
	f, err := strconv.ParseFloat(c.State, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Resolver computes values for properties the hub does not expose directly.
type Resolver struct {
	logger   *logrus.Logger
	mappings *mapping.Service
}

func NewResolver(mappings *mapping.Service, logger *logrus.Logger) *Resolver {
	return &Resolver{
		logger:   logger,
		mappings: mappings,
	}
}

// ResolveValue dispatches on the definition's virtual type. Static returns the
// configured constant, command has no read side and yields nil, derived looks
// up the rule (inline takes precedence over a registered name) and applies it.
func (r *Resolver) ResolveValue(def mapping.VirtualPropertyDefinition, ctx EntityContext) (any, error) {
	switch def.Type {
	case mapping.VirtualStatic:
		return def.Value, nil
	case mapping.VirtualCommand:
		return nil, nil
	case mapping.VirtualDerived:
		rule, err := r.derivationRule(def)
		if err != nil {
			return nil, err
		}
		return r.applyDerivation(rule, ctx), nil
	default:
		return nil, fmt.Errorf("unknown virtual property type %q", def.Type)
	}
}

func (r *Resolver) derivationRule(def mapping.VirtualPropertyDefinition) (mapping.DerivationRule, error) {
	if def.Rule != nil {
		return *def.Rule, nil
	}
	if def.Derivation == "" {
		return mapping.DerivationRule{}, fmt.Errorf("derived property %q has neither inline rule nor derivation name", def.Property)
	}

	rule, ok := r.mappings.Derivation(def.Derivation)
	if !ok {
		return mapping.DerivationRule{}, fmt.Errorf("derivation %q is not registered", def.Derivation)
	}
	return rule, nil
}

func (r *Resolver) applyDerivation(rule mapping.DerivationRule, ctx EntityContext) any {
	switch rule.Type {
	case mapping.DerivationStatic:
		return rule.Value

	case mapping.DerivationDeviceClassMap:
		if result, ok := rule.Map[ctx.DeviceClass]; ok {
			return result
		}
		return rule.Default

	case mapping.DerivationThreshold:
		source, ok := ctx.NumericState()
		if !ok {
			r.logger.WithFields(logrus.Fields{
				"entity_id": ctx.EntityID,
				"state":     ctx.State,
			}).Debug("Threshold derivation source is not numeric, using default")
			return rule.Default
		}
		// Ranges are evaluated in declaration order; the first range whose
		// bounds both hold wins.
		for _, bucket := range rule.Ranges {
			if bucket.Min != nil && source < *bucket.Min {
				continue
			}
			if bucket.Max != nil && source > *bucket.Max {
				continue
			}
			return bucket.Result
		}
		return rule.Default

	default:
		r.logger.WithField("type", rule.Type).Warn("Unknown derivation rule type")
		return rule.Default
	}
}

// MissingProperties returns, for every required category not already covered
// by a live external mapping, the virtual definition that can fill it. This
// lets the connector adopt devices the hub does not fully describe.
func (r *Resolver) MissingProperties(category model.ChannelCategory, existing map[model.PropertyCategory]bool, required []model.PropertyCategory) []mapping.VirtualPropertyDefinition {
	available := r.mappings.VirtualProperties(category)
	if len(available) == 0 {
		return nil
	}

	byProperty := make(map[model.PropertyCategory]mapping.VirtualPropertyDefinition, len(available))
	for _, def := range available {
		byProperty[def.Property] = def
	}

	var missing []mapping.VirtualPropertyDefinition
	for _, propertyCategory := range required {
		if existing[propertyCategory] {
			continue
		}
		if def, ok := byProperty[propertyCategory]; ok {
			missing = append(missing, def)
		}
	}
	return missing
}

// ServiceCallFor resolves the hub service call for a command-type virtual
// property identified by its channel and property categories.
func (r *Resolver) ServiceCallFor(category model.ChannelCategory, property model.PropertyCategory, value any) (*mapping.ServiceCall, bool) {
	for _, def := range r.mappings.VirtualProperties(category) {
		if def.Property == property && def.Type == mapping.VirtualCommand {
			return r.ServiceCallForCommand(def, value)
		}
	}
	return nil, false
}

// ServiceCallForCommand translates a write-side command value into a hub
// service call. An unmapped command value is a logged no-op.
func (r *Resolver) ServiceCallForCommand(def mapping.VirtualPropertyDefinition, value any) (*mapping.ServiceCall, bool) {
	if def.Type != mapping.VirtualCommand || def.Commands == nil {
		return nil, false
	}

	key := fmt.Sprintf("%v", value)
	call, ok := def.Commands.Services[key]
	if !ok {
		r.logger.WithFields(logrus.Fields{
			"property": def.Property,
			"command":  key,
		}).Debug("No service mapped for command value, skipping")
		return nil, false
	}
	return &call, true
}
