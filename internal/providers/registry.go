package providers

import (
	"fmt"
	"sort"
	"strings"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/model"
)

// Registry resolves adapters by provider name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		r.adapters[normalizeName(a.Info().Name)] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, error) {
	if r == nil {
		return nil, clierr.New(clierr.CodeUnsupported, "no providers configured")
	}
	a, ok := r.adapters[normalizeName(name)]
	if !ok {
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("provider %q is not enabled", name))
	}
	return a, nil
}

// Restrict returns a registry holding only the named providers. An empty
// allowlist keeps every adapter.
func (r *Registry) Restrict(allowed []string) *Registry {
	if len(allowed) == 0 {
		return r
	}
	out := &Registry{adapters: map[string]Adapter{}}
	for _, name := range allowed {
		if a, ok := r.adapters[normalizeName(name)]; ok {
			out.adapters[normalizeName(name)] = a
		}
	}
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) List() []model.ProviderInfo {
	names := r.Names()
	out := make([]model.ProviderInfo, 0, len(names))
	for _, name := range names {
		out = append(out, r.adapters[name].Info())
	}
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
