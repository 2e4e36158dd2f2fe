package groundwork

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Template pre-fills a new document's sections so common project shapes do
// not start from a blank page.
type Template struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Icon        string   `json:"icon,omitempty"`
	Sections    Sections `json:"-"`
}

var builtinTemplates = []Template{
	{
		ID:          "blank",
		Name:        "Blank",
		Description: "Start from nothing",
		Icon:        "file",
		Sections:    emptySections(),
	},
	{
		ID:          "saas",
		Name:        "SaaS product",
		Description: "Subscription web application with accounts and billing",
		Icon:        "cloud",
		Sections: func() Sections {
			s := emptySections()
			s.Stack = TechStack{Frontend: "React", Backend: "Node.js", Database: "Postgres", Hosting: "Vercel", Other: []string{}}
			s.Features = []Feature{
				{ID: uuid.NewString(), Name: "Sign up and sign in", Priority: PriorityMVP},
				{ID: uuid.NewString(), Name: "Subscription billing", Priority: PriorityMVP},
				{ID: uuid.NewString(), Name: "Team workspaces", Priority: PriorityLater},
			}
			s.Screens = []Screen{
				{ID: uuid.NewString(), Name: "Landing"},
				{ID: uuid.NewString(), Name: "Dashboard"},
				{ID: uuid.NewString(), Name: "Settings"},
			}
			return s
		}(),
	},
	{
		ID:          "api",
		Name:        "API service",
		Description: "Headless backend service consumed by other programs",
		Icon:        "server",
		Sections: func() Sections {
			s := emptySections()
			s.Stack = TechStack{Backend: "Go", Database: "Postgres", Hosting: "Fly.io", Other: []string{}}
			s.Features = []Feature{
				{ID: uuid.NewString(), Name: "REST endpoints", Priority: PriorityMVP},
				{ID: uuid.NewString(), Name: "API key auth", Priority: PriorityMVP},
				{ID: uuid.NewString(), Name: "Rate limiting", Priority: PriorityLater},
			}
			return s
		}(),
	},
	{
		ID:          "cli-tool",
		Name:        "CLI tool",
		Description: "Command-line utility distributed as a single binary",
		Icon:        "terminal",
		Sections: func() Sections {
			s := emptySections()
			s.Stack = TechStack{Backend: "Go", Hosting: "GitHub Releases", Other: []string{}}
			s.Features = []Feature{
				{ID: uuid.NewString(), Name: "Subcommand interface", Priority: PriorityMVP},
				{ID: uuid.NewString(), Name: "Config file support", Priority: PriorityLater},
				{ID: uuid.NewString(), Name: "Shell completion", Priority: PriorityLater},
			}
			return s
		}(),
	},
}

// Templates lists the built-in templates.
func Templates() []Template {
	out := make([]Template, len(builtinTemplates))
	copy(out, builtinTemplates)
	return out
}

// CreateFromTemplate allocates a new document seeded from the named template
// and makes it active.
func (s *Store) CreateFromTemplate(templateID, name, description string) (Document, error) {
	var tpl *Template
	for i := range builtinTemplates {
		if builtinTemplates[i].ID == templateID {
			tpl = &builtinTemplates[i]
			break
		}
	}
	if tpl == nil {
		return Document{}, fmt.Errorf("%w: unknown template %q", ErrInvalidInput, templateID)
	}

	doc := NewDocument(name, description)
	doc.TemplateID = tpl.ID
	doc.Icon = tpl.Icon
	doc.Sections = tpl.Sections.Clone()
	doc.Progress = CalculateProgress(doc.Sections)
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	s.insert(doc)
	s.logger.Info().Str("id", doc.ID).Str("template", tpl.ID).Msg("document created from template")
	return doc.Clone(), nil
}
