package calendar

import (
	"gopkg.in/yaml.v3"

	seqerr "github.com/logflow/seqmine/pkg/errors"
)

// Definition is the declarative form of a registry. Each calendar uses
// Gregorian arithmetic; its granularities may be given custom labels.
//
//	manager: 1
//	version: 2
//	calendars:
//	  - id: 1
//	    name: gregorian
//	    granularities:
//	      - {label: tag, unit: day, context: month}
type Definition struct {
	Manager   uint32               `yaml:"manager"`
	Version   uint32               `yaml:"version"`
	Calendars []CalendarDefinition `yaml:"calendars"`
}

// CalendarDefinition declares one calendar.
type CalendarDefinition struct {
	ID            int                     `yaml:"id"`
	Name          string                  `yaml:"name"`
	Granularities []GranularityDefinition `yaml:"granularities"`
}

// GranularityDefinition declares one labelled granularity.
type GranularityDefinition struct {
	Label        string `yaml:"label"`
	ContextLabel string `yaml:"context_label"`
	Unit         string `yaml:"unit"`
	Context      string `yaml:"context"`
}

// ParseDefinition decodes a YAML registry definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, seqerr.Wrap(err, seqerr.CodeMalformedInput, "invalid calendar definition")
	}
	return &def, nil
}

// NewRegistryFromDefinition builds a registry from a definition. Labels
// default to the unit names. Duplicate calendar ids or (label, context label)
// pairs are rejected.
func NewRegistryFromDefinition(def *Definition) (*Registry, error) {
	r := &Registry{
		manager:       def.Manager,
		version:       def.Version,
		calendars:     make(map[int]string),
		granularities: make(map[lookupKey]Granularity),
	}
	if !fits(r.manager, ManagerBits) || !fits(r.version, VersionBits) {
		return nil, seqerr.New(seqerr.CodeMalformedInput, "manager or version out of range").
			WithContext("manager", r.manager).
			WithContext("version", r.version)
	}

	declared := make(map[lookupKey]bool)
	for _, cal := range def.Calendars {
		if _, dup := r.calendars[cal.ID]; dup {
			return nil, seqerr.DuplicateKey("calendars", cal.Name)
		}
		if cal.ID <= 0 || !fits(uint32(cal.ID), CalendarBits) {
			return nil, seqerr.New(seqerr.CodeMalformedInput, "calendar id out of range").
				WithContext("calendar", cal.ID)
		}
		r.calendars[cal.ID] = cal.Name

		for _, gd := range cal.Granularities {
			unit, err := ParseUnit(gd.Unit)
			if err != nil {
				return nil, seqerr.Wrap(err, seqerr.CodeMalformedInput, "invalid granularity unit").
					WithContext("label", gd.Label)
			}
			ctx := Top
			if gd.Context != "" {
				if ctx, err = ParseUnit(gd.Context); err != nil {
					return nil, seqerr.Wrap(err, seqerr.CodeMalformedInput, "invalid granularity context").
						WithContext("label", gd.Label)
				}
			}

			g := Granularity{
				CalendarID:           cal.ID,
				TypeID:               TypeRegular,
				GranularityID:        unit,
				ContextGranularityID: ctx,
			}
			if unit == Top {
				g = TopGranularity(cal.ID)
			} else if !CanContain(ctx, unit) {
				return nil, seqerr.New(seqerr.CodeMalformedInput, "context must be coarser than unit").
					WithContext("label", gd.Label).
					WithContext("unit", unit.String()).
					WithContext("context", ctx.String())
			}

			label := gd.Label
			if label == "" {
				label = unit.String()
			}
			ctxLabel := gd.ContextLabel
			if ctxLabel == "" {
				ctxLabel = ctx.String()
			}

			key := lookupKey{cal.ID, label, ctxLabel}
			if declared[key] {
				return nil, seqerr.DuplicateKey(cal.Name, label+"/"+ctxLabel)
			}
			declared[key] = true
			r.granularities[key] = g

			// Resolve goes through canonical unit names.
			canonical := lookupKey{cal.ID, g.GranularityID.String(), g.ContextGranularityID.String()}
			if _, ok := r.granularities[canonical]; !ok {
				r.granularities[canonical] = g
			}
		}
	}
	return r, nil
}
