// Package groundwork implements the local-first planning engine: an in-memory
// document store persisted to a durable blob, a tombstone ledger for deletions,
// and a sync engine that reconciles the local replica with a remote collection.
package groundwork

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Priority string

const (
	PriorityMVP   Priority = "mvp"
	PriorityLater Priority = "later"
	PriorityCut   Priority = "cut"
)

type Effort string

const (
	EffortSmall  Effort = "small"
	EffortMedium Effort = "medium"
	EffortLarge  Effort = "large"
)

type MilestoneStatus string

const (
	MilestoneNotStarted MilestoneStatus = "not-started"
	MilestoneInProgress MilestoneStatus = "in-progress"
	MilestoneCompleted  MilestoneStatus = "completed"
)

type ProblemSection struct {
	Statement       string `json:"statement"`
	Impact          string `json:"impact"`
	CurrentSolution string `json:"currentSolution"`
}

type Persona struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Role       string   `json:"role"`
	PainPoints []string `json:"painPoints"`
	Goals      []string `json:"goals"`
}

type Competitor struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	URL       string   `json:"url,omitempty"`
	Strengths []string `json:"strengths"`
	Gaps      []string `json:"gaps"`
}

type Feature struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	Effort      Effort   `json:"effort"`
	Notes       string   `json:"notes,omitempty"`
}

type EntityField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

type EntityRelationship struct {
	TargetEntity string `json:"targetEntity"`
	Type         string `json:"type"`
	Description  string `json:"description,omitempty"`
}

type Entity struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Fields        []EntityField        `json:"fields"`
	Relationships []EntityRelationship `json:"relationships"`
}

type TechStack struct {
	Frontend string   `json:"frontend,omitempty"`
	Backend  string   `json:"backend,omitempty"`
	Database string   `json:"database,omitempty"`
	Hosting  string   `json:"hosting,omitempty"`
	Auth     string   `json:"auth,omitempty"`
	Payments string   `json:"payments,omitempty"`
	Other    []string `json:"other"`
}

type Screen struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Section     string `json:"section,omitempty"`
}

type ArchitectureComponent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type ArchitectureConnection struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Label    string `json:"label,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

type ArchitectureSection struct {
	Components  []ArchitectureComponent  `json:"components"`
	Connections []ArchitectureConnection `json:"connections"`
}

type MilestoneTask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

type Milestone struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Tasks       []MilestoneTask `json:"tasks"`
	TargetDate  string          `json:"targetDate,omitempty"`
	Status      MilestoneStatus `json:"status"`
}

type Decision struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Options   []string `json:"options"`
	Chosen    string   `json:"chosen,omitempty"`
	Reasoning string   `json:"reasoning,omitempty"`
	Date      string   `json:"date"`
}

// Sections is the structured planning payload of a document. The sync engine
// treats it as one atomic value: reconciliation never merges below document
// granularity.
type Sections struct {
	Problem      ProblemSection      `json:"problem"`
	Personas     []Persona           `json:"personas"`
	Competitors  []Competitor        `json:"competitors"`
	Features     []Feature           `json:"features"`
	DataModel    []Entity            `json:"dataModel"`
	Stack        TechStack           `json:"stack"`
	Screens      []Screen            `json:"screens"`
	Architecture ArchitectureSection `json:"architecture"`
	Milestones   []Milestone         `json:"milestones"`
	Decisions    []Decision          `json:"decisions"`
}

// Document is one user project: the unit of storage and of conflict
// resolution. UpdatedAt is stamped on every local mutation and is the sole
// signal used by the merge resolver.
type Document struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Icon             string          `json:"icon,omitempty"`
	Color            string          `json:"color,omitempty"`
	TemplateID       string          `json:"templateId,omitempty"`
	OwnerID          string          `json:"ownerId,omitempty"`
	Progress         int             `json:"progress"`
	Archived         bool            `json:"archived,omitempty"`
	Favorite         bool            `json:"favorite,omitempty"`
	DisabledSections []string        `json:"disabledSections"`
	Sections         Sections        `json:"sections"`
	Canvas           json.RawMessage `json:"canvas,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type Preferences struct {
	Theme       string `json:"theme"`
	ColorScheme string `json:"colorScheme"`
	AIEnabled   bool   `json:"aiEnabled"`
	AIModel     string `json:"aiModel,omitempty"`
}

func defaultPreferences() Preferences {
	return Preferences{
		Theme:       "system",
		ColorScheme: "purple",
	}
}

func emptySections() Sections {
	return Sections{
		Problem:      ProblemSection{},
		Personas:     []Persona{},
		Competitors:  []Competitor{},
		Features:     []Feature{},
		DataModel:    []Entity{},
		Stack:        TechStack{Other: []string{}},
		Screens:      []Screen{},
		Architecture: ArchitectureSection{Components: []ArchitectureComponent{}, Connections: []ArchitectureConnection{}},
		Milestones:   []Milestone{},
		Decisions:    []Decision{},
	}
}

// NewDocument allocates a fresh document with empty sections and matching
// created/updated timestamps.
func NewDocument(name, description string) Document {
	now := time.Now().UTC()
	return Document{
		ID:               uuid.NewString(),
		Name:             name,
		Description:      description,
		DisabledSections: []string{},
		Sections:         emptySections(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// ensureDefaults backfills fields that older persisted snapshots or foreign
// imports may be missing, so schema evolution never makes stored data
// unloadable. Derived fields are recomputed rather than trusted.
func ensureDefaults(doc Document) Document {
	if doc.DisabledSections == nil {
		doc.DisabledSections = []string{}
	}
	s := &doc.Sections
	if s.Personas == nil {
		s.Personas = []Persona{}
	}
	if s.Competitors == nil {
		s.Competitors = []Competitor{}
	}
	if s.Features == nil {
		s.Features = []Feature{}
	}
	if s.DataModel == nil {
		s.DataModel = []Entity{}
	}
	if s.Stack.Other == nil {
		s.Stack.Other = []string{}
	}
	if s.Screens == nil {
		s.Screens = []Screen{}
	}
	if s.Architecture.Components == nil {
		s.Architecture.Components = []ArchitectureComponent{}
	}
	if s.Architecture.Connections == nil {
		s.Architecture.Connections = []ArchitectureConnection{}
	}
	if s.Milestones == nil {
		s.Milestones = []Milestone{}
	}
	if s.Decisions == nil {
		s.Decisions = []Decision{}
	}
	doc.Progress = CalculateProgress(doc.Sections)
	return doc
}

// Clone returns a deep copy sharing no mutable substructure with the source.
// A JSON round-trip is used on purpose: the document tree is plain data and
// the round-trip cannot silently alias a nested slice or map.
func (d Document) Clone() Document {
	data, err := json.Marshal(d)
	if err != nil {
		// The document tree contains only marshalable types.
		panic(err)
	}
	var clone Document
	if err := json.Unmarshal(data, &clone); err != nil {
		panic(err)
	}
	return ensureDefaults(clone)
}

// Clone deep-copies the section payload.
func (s Sections) Clone() Sections {
	data, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	var clone Sections
	if err := json.Unmarshal(data, &clone); err != nil {
		panic(err)
	}
	return clone
}

type sectionWeight struct {
	weight int
	filled func(Sections) bool
}

var sectionWeights = []sectionWeight{
	{15, func(s Sections) bool { return s.Problem.Statement != "" }},
	{10, func(s Sections) bool { return len(s.Personas) > 0 }},
	{5, func(s Sections) bool { return len(s.Competitors) > 0 }},
	{20, func(s Sections) bool { return len(s.Features) > 0 }},
	{15, func(s Sections) bool { return len(s.DataModel) > 0 }},
	{10, func(s Sections) bool {
		return s.Stack.Frontend != "" || s.Stack.Backend != "" || s.Stack.Database != ""
	}},
	{10, func(s Sections) bool { return len(s.Screens) > 0 }},
	{5, func(s Sections) bool { return len(s.Architecture.Components) > 0 }},
	{10, func(s Sections) bool { return len(s.Milestones) > 0 }},
	{5, func(s Sections) bool { return len(s.Decisions) > 0 }},
}

// CalculateProgress reports weighted section completion as a 0-100 percentage.
func CalculateProgress(sections Sections) int {
	total := 0
	filled := 0
	for _, sw := range sectionWeights {
		total += sw.weight
		if sw.filled(sections) {
			filled += sw.weight
		}
	}
	if total == 0 {
		return 0
	}
	return int(float64(filled)/float64(total)*100 + 0.5)
}
