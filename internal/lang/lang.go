// Package lang maps language identifiers to the rules for turning source
// text into a runnable unit inside the sandbox.
package lang

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnsupportedLanguage is wrapped by ConfigurationError.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ConfigurationError reports a job that references a language with no
// registered strategy.
type ConfigurationError struct {
	Language string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %q", ErrUnsupportedLanguage, e.Language)
}

func (e *ConfigurationError) Unwrap() error { return ErrUnsupportedLanguage }

// Unit is the language-specific naming derived from source text.
type Unit struct {
	// FileName is the source file name, both on disk and inside the sandbox.
	FileName string
	// ArtifactName is a source-derived identifier such as a Java class name.
	ArtifactName string
	// BuildArtifacts are file names a build step may leave next to the
	// source. They are registered for cleanup whether or not they appear.
	BuildArtifacts []string
}

// Strategy is one supported language.
type Strategy interface {
	// Name is the language identifier used in job descriptors.
	Name() string
	// Extension is the source file extension including the dot.
	Extension() string
	// Prepare derives the unit naming for source.
	Prepare(source string) Unit
	// Command returns the argv to run inside the sandbox.
	Command(u Unit) []string
}

// Registry is a concurrency-safe set of strategies keyed by name.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates a registry holding the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Default returns a registry with JavaScript, Python and Java.
func Default() *Registry {
	return NewRegistry(JavaScript{}, Python{}, Java{})
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// Lookup returns the strategy for name or a *ConfigurationError.
func (r *Registry) Lookup(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, &ConfigurationError{Language: name}
	}
	return s, nil
}

// Names returns the registered language names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
