// Package intake accumulates the medical facts gathered during one
// consultation and decides when enough is known to resolve a diagnosis.
package intake

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Field is one of the seven key facts counted by completeness.
type Field string

const (
	FieldNone        Field = ""
	FieldComplaint   Field = "complaint"
	FieldDuration    Field = "duration"
	FieldIntensity   Field = "intensity"
	FieldFrequency   Field = "frequency"
	FieldTimeOfDay   Field = "time_of_day"
	FieldAggravating Field = "aggravating"
	FieldRelieving   Field = "relieving"
)

// precedence is the order in which missing fields are asked for.
var precedence = []Field{
	FieldComplaint,
	FieldDuration,
	FieldIntensity,
	FieldFrequency,
	FieldTimeOfDay,
	FieldAggravating,
	FieldRelieving,
}

const keyFieldCount = 7

// Policy holds the sufficiency thresholds: the complaint plus MinFields of
// the other six fields, or the complaint plus MinTurns answers.
type Policy struct {
	MinFields int
	MinTurns  int
}

func DefaultPolicy() Policy {
	return Policy{MinFields: 4, MinTurns: 5}
}

// MedicalContext is mutated only through Apply and RecordTurn. Fields are
// set once and never cleared, so completeness cannot go down.
type MedicalContext struct {
	policy Policy

	complaint   string
	secondary   []string
	duration    string
	intensity   *int
	frequency   string
	timeOfDay   string
	aggravating []string
	relieving   []string

	turns        int
	completeness float64
	sufficient   bool
}

func New(policy Policy) *MedicalContext {
	if policy.MinFields <= 0 {
		policy.MinFields = DefaultPolicy().MinFields
	}
	if policy.MinTurns <= 0 {
		policy.MinTurns = DefaultPolicy().MinTurns
	}
	return &MedicalContext{policy: policy}
}

// Apply folds extracted entities into the context and returns the fields
// that changed.
func (c *MedicalContext) Apply(e Entities) []Field {
	var changed []Field

	for _, s := range e.Symptoms {
		switch {
		case c.complaint == "":
			c.complaint = s
			changed = append(changed, FieldComplaint)
		case s != c.complaint && !slices.Contains(c.secondary, s):
			c.secondary = append(c.secondary, s)
		}
	}
	if c.duration == "" && e.Duration != "" {
		c.duration = e.Duration
		changed = append(changed, FieldDuration)
	}
	if c.intensity == nil && e.Intensity != nil && *e.Intensity >= 0 && *e.Intensity <= 10 {
		v := *e.Intensity
		c.intensity = &v
		changed = append(changed, FieldIntensity)
	}
	if c.frequency == "" && e.Frequency != "" {
		c.frequency = e.Frequency
		changed = append(changed, FieldFrequency)
	}
	if c.timeOfDay == "" && e.TimeOfDay != "" {
		c.timeOfDay = e.TimeOfDay
		changed = append(changed, FieldTimeOfDay)
	}
	if addAll(&c.aggravating, e.Aggravating) {
		changed = append(changed, FieldAggravating)
	}
	if addAll(&c.relieving, e.Relieving) {
		changed = append(changed, FieldRelieving)
	}

	c.evaluate()
	return changed
}

// RecordTurn counts one patient answer. Answers before a complaint exists
// do not count toward the turn rule.
func (c *MedicalContext) RecordTurn() {
	if c.complaint == "" {
		return
	}
	c.turns++
	c.evaluate()
}

func (c *MedicalContext) evaluate() {
	filled := c.filledOthers()
	if c.complaint != "" {
		filled++
	}
	if score := float64(filled) / keyFieldCount; score > c.completeness {
		c.completeness = score
	}
	if c.sufficient || c.complaint == "" {
		return
	}
	if c.filledOthers() >= c.policy.MinFields || c.turns >= c.policy.MinTurns {
		c.sufficient = true
	}
}

func (c *MedicalContext) filledOthers() int {
	n := 0
	for _, f := range precedence[1:] {
		if c.Has(f) {
			n++
		}
	}
	return n
}

// Has reports whether a key field holds a value.
func (c *MedicalContext) Has(f Field) bool {
	switch f {
	case FieldComplaint:
		return c.complaint != ""
	case FieldDuration:
		return c.duration != ""
	case FieldIntensity:
		return c.intensity != nil
	case FieldFrequency:
		return c.frequency != ""
	case FieldTimeOfDay:
		return c.timeOfDay != ""
	case FieldAggravating:
		return len(c.aggravating) > 0
	case FieldRelieving:
		return len(c.relieving) > 0
	}
	return false
}

// NextMissingField returns the highest-priority empty field, or false once
// the context is sufficient.
func (c *MedicalContext) NextMissingField() (Field, bool) {
	if c.sufficient {
		return FieldNone, false
	}
	for _, f := range precedence {
		if !c.Has(f) {
			return f, true
		}
	}
	return FieldNone, false
}

func (c *MedicalContext) Completeness() float64 { return c.completeness }
func (c *MedicalContext) Sufficient() bool      { return c.sufficient }
func (c *MedicalContext) Turns() int            { return c.turns }
func (c *MedicalContext) Complaint() string     { return c.complaint }
func (c *MedicalContext) Duration() string      { return c.duration }
func (c *MedicalContext) Frequency() string     { return c.frequency }
func (c *MedicalContext) TimeOfDay() string     { return c.timeOfDay }
func (c *MedicalContext) Secondary() []string   { return slices.Clone(c.secondary) }
func (c *MedicalContext) Aggravating() []string { return slices.Clone(c.aggravating) }
func (c *MedicalContext) Relieving() []string   { return slices.Clone(c.relieving) }

// Intensity returns the 0-10 rating and whether one was given.
func (c *MedicalContext) Intensity() (int, bool) {
	if c.intensity == nil {
		return 0, false
	}
	return *c.intensity, true
}

// Clone returns a deep copy for all-or-nothing updates.
func (c *MedicalContext) Clone() *MedicalContext {
	cp := *c
	cp.secondary = slices.Clone(c.secondary)
	cp.aggravating = slices.Clone(c.aggravating)
	cp.relieving = slices.Clone(c.relieving)
	if c.intensity != nil {
		v := *c.intensity
		cp.intensity = &v
	}
	return &cp
}

// Summary renders the context as short clinical notes.
func (c *MedicalContext) Summary() string {
	var b strings.Builder
	line := func(label, value string) {
		if value == "" {
			value = "no indicado"
		}
		fmt.Fprintf(&b, "- %s: %s\n", label, value)
	}
	line("Molestia principal", c.complaint)
	if len(c.secondary) > 0 {
		line("Otras molestias", strings.Join(c.secondary, ", "))
	}
	line("Desde hace", c.duration)
	if v, ok := c.Intensity(); ok {
		line("Intensidad", fmt.Sprintf("%d/10", v))
	} else {
		line("Intensidad", "")
	}
	line("Frecuencia", c.frequency)
	line("Momento del día", c.timeOfDay)
	line("Empeora con", strings.Join(c.aggravating, ", "))
	line("Mejora con", strings.Join(c.relieving, ", "))
	return b.String()
}

// Snapshot is the serialized view of a context.
type Snapshot struct {
	PrimaryComplaint    string   `json:"primary_complaint,omitempty"`
	SecondaryComplaints []string `json:"secondary_complaints,omitempty"`
	Duration            string   `json:"duration,omitempty"`
	Intensity           *int     `json:"intensity,omitempty"`
	Frequency           string   `json:"frequency,omitempty"`
	TimeOfDay           string   `json:"time_of_day,omitempty"`
	Aggravating         []string `json:"aggravating,omitempty"`
	Relieving           []string `json:"relieving,omitempty"`
	Turns               int      `json:"turns"`
	Completeness        float64  `json:"completeness"`
	Sufficient          bool     `json:"sufficient"`
}

func (c *MedicalContext) Snapshot() Snapshot {
	s := Snapshot{
		PrimaryComplaint:    c.complaint,
		SecondaryComplaints: c.Secondary(),
		Duration:            c.duration,
		Frequency:           c.frequency,
		TimeOfDay:           c.timeOfDay,
		Aggravating:         c.Aggravating(),
		Relieving:           c.Relieving(),
		Turns:               c.turns,
		Completeness:        c.completeness,
		Sufficient:          c.sufficient,
	}
	if v, ok := c.Intensity(); ok {
		s.Intensity = &v
	}
	return s
}

func (c *MedicalContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}

func addAll(dst *[]string, values []string) bool {
	added := false
	for _, v := range values {
		if v == "" || slices.Contains(*dst, v) {
			continue
		}
		*dst = append(*dst, v)
		added = true
	}
	return added
}
