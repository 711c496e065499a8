// Package registry holds the static catalog of services and the variables
// each one owns.
package registry

import (
	_ "embed"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/munivars/internal/model"
)

//go:embed services.yaml
var embeddedCatalog []byte

type catalogFile struct {
	Services []serviceEntry `yaml:"services"`
}

type serviceEntry struct {
	ID             string                     `yaml:"id"`
	Name           string                     `yaml:"name"`
	SearchKeywords []string                   `yaml:"search_keywords"`
	Variables      []model.VariableDefinition `yaml:"variables"`
}

// Registry indexes services and variable definitions.
type Registry struct {
	services  []model.ServiceDefinition
	byID      map[string]int
	variables map[string]model.VariableDefinition
	owner     map[string]string
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Default returns the embedded catalog.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = Parse(embeddedCatalog)
	})
	return defaultReg, defaultErr
}

// LoadFile reads a catalog from a YAML file with the same layout as the
// embedded one.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read catalog")
	}
	return Parse(data)
}

// Parse builds a Registry from YAML. A variable listed under two services,
// an empty service id or a duplicate id is an error.
func Parse(data []byte) (*Registry, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal catalog")
	}

	r := &Registry{
		byID:      make(map[string]int, len(cf.Services)),
		variables: make(map[string]model.VariableDefinition),
		owner:     make(map[string]string),
	}
	for _, s := range cf.Services {
		if s.ID == "" {
			return nil, eris.New("registry: service without id")
		}
		if _, dup := r.byID[s.ID]; dup {
			return nil, eris.Errorf("registry: duplicate service %q", s.ID)
		}

		def := model.ServiceDefinition{ID: s.ID, Name: s.Name, SearchKeywords: s.SearchKeywords}
		for _, v := range s.Variables {
			if v.Name == "" {
				return nil, eris.Errorf("registry: service %q has a variable without name", s.ID)
			}
			if prev, taken := r.owner[v.Name]; taken {
				return nil, eris.Errorf("registry: variable %q belongs to both %q and %q", v.Name, prev, s.ID)
			}
			if v.Priority == "" {
				v.Priority = model.PriorityMedium
			}
			r.owner[v.Name] = s.ID
			r.variables[v.Name] = v
			def.Variables = append(def.Variables, v.Name)
		}

		r.byID[s.ID] = len(r.services)
		r.services = append(r.services, def)
	}
	return r, nil
}

// Services returns every service in catalog order.
func (r *Registry) Services() []model.ServiceDefinition {
	return append([]model.ServiceDefinition(nil), r.services...)
}

// ServiceIDs returns every service id in catalog order.
func (r *Registry) ServiceIDs() []string {
	ids := make([]string, len(r.services))
	for i, s := range r.services {
		ids[i] = s.ID
	}
	return ids
}

// Service looks up a service by id.
func (r *Registry) Service(id string) (model.ServiceDefinition, bool) {
	i, ok := r.byID[id]
	if !ok {
		return model.ServiceDefinition{}, false
	}
	return r.services[i], true
}

// Variable looks up a variable definition by name.
func (r *Registry) Variable(name string) (model.VariableDefinition, bool) {
	v, ok := r.variables[name]
	return v, ok
}

// Definition returns the definition for name, or a bare one using the name
// as description when the catalog does not know it.
func (r *Registry) Definition(name string) model.VariableDefinition {
	if v, ok := r.variables[name]; ok {
		return v
	}
	return model.VariableDefinition{Name: name, Description: name}
}

// Definitions returns the definitions of a service's variables in order.
func (r *Registry) Definitions(serviceID string) []model.VariableDefinition {
	s, ok := r.Service(serviceID)
	if !ok {
		return nil
	}
	out := make([]model.VariableDefinition, len(s.Variables))
	for i, name := range s.Variables {
		out[i] = r.Definition(name)
	}
	return out
}

// ServiceOf returns the id of the service that owns a variable.
func (r *Registry) ServiceOf(name string) (string, bool) {
	id, ok := r.owner[name]
	return id, ok
}

// TotalVariables counts the variables across the given services, or all
// services when ids is empty.
func (r *Registry) TotalVariables(ids ...string) int {
	if len(ids) == 0 {
		return len(r.variables)
	}
	n := 0
	for _, id := range ids {
		if s, ok := r.Service(id); ok {
			n += len(s.Variables)
		}
	}
	return n
}
