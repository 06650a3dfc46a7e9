package push

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed routes.yaml
var defaultRoutes []byte

// Route is the screen a notification opens.
type Route struct {
	Screen string `json:"screen"`
	ID     string `json:"id,omitempty"`
}

func (r Route) String() string {
	if r.ID == "" {
		return r.Screen
	}
	return r.Screen + "/" + r.ID
}

type screenSpec struct {
	RequiresID bool `yaml:"requires_id"`
}

type routeTable struct {
	Scheme  string                `yaml:"scheme"`
	Default string                `yaml:"default"`
	Screens map[string]screenSpec `yaml:"screens"`
	Types   map[string]string     `yaml:"types"`
}

type Router struct {
	table routeTable
}

// LoadRouter reads the route table at path, or the built-in table when path
// is empty.
func LoadRouter(path string) (*Router, error) {
	raw := defaultRoutes
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read route table: %w", err)
		}
		raw = b
	}
	return ParseRouter(raw)
}

func ParseRouter(raw []byte) (*Router, error) {
	var t routeTable
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse route table: %w", err)
	}
	if t.Scheme == "" {
		return nil, fmt.Errorf("route table: scheme is required")
	}
	if _, ok := t.Screens[t.Default]; !ok {
		return nil, fmt.Errorf("route table: default screen %q is not declared", t.Default)
	}
	for typ, screen := range t.Types {
		if _, ok := t.Screens[screen]; !ok {
			return nil, fmt.Errorf("route table: type %q maps to unknown screen %q", typ, screen)
		}
	}
	return &Router{table: t}, nil
}

// Resolve picks the route for n: its deep link when valid, otherwise its
// type, otherwise the default screen.
func (r *Router) Resolve(n Notification) Route {
	if route, ok := r.fromLink(n.DeepLink); ok {
		return route
	}
	if screen, ok := r.table.Types[n.Type]; ok {
		id := n.EntityID
		if r.table.Screens[screen].RequiresID && id == "" {
			return Route{Screen: r.table.Default}
		}
		return Route{Screen: screen, ID: id}
	}
	return Route{Screen: r.table.Default}
}

func (r *Router) fromLink(link string) (Route, bool) {
	if link == "" {
		return Route{}, false
	}
	u, err := url.Parse(link)
	if err != nil || u.Scheme != r.table.Scheme {
		return Route{}, false
	}
	spec, ok := r.table.Screens[u.Host]
	if !ok {
		return Route{}, false
	}
	id := strings.Trim(u.Path, "/")
	if strings.Contains(id, "/") {
		return Route{}, false
	}
	if spec.RequiresID && id == "" {
		return Route{}, false
	}
	return Route{Screen: u.Host, ID: id}, true
}
