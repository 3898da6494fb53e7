package providers

import (
	"fmt"
	"sort"
)

type Registry struct {
	locators map[string]Locator
}

func NewRegistry() *Registry {
	return &Registry{locators: map[string]Locator{}}
}

func (r *Registry) Register(l Locator) {
	r.locators[l.Name()] = l
}

func (r *Registry) Get(name string) (Locator, error) {
	l, ok := r.locators[name]
	if !ok {
		return nil, fmt.Errorf("locator not registered: %s", name)
	}
	return l, nil
}

// Names lists registered locators in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.locators))
	for n := range r.locators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
