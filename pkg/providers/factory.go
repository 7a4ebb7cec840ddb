package providers

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	OpenAI   = "openai"
	Mistral  = "mistral"
	Google   = "google"
	Scripted = "scripted"
)

var DefaultBaseURLs = map[string]string{
	OpenAI:  "https://api.openai.com/v1",
	Mistral: "https://api.mistral.ai/v1",
	Google:  "https://generativelanguage.googleapis.com/v1beta/openai/",
}

var DefaultModels = map[string]string{
	OpenAI:  "gpt-4o",
	Mistral: "mistral-large-latest",
	Google:  "gemini-1.5-pro",
}

// Wrapper decorates every provider the factory builds.
type Wrapper func(name string, p Provider) Provider

type FactoryOption func(*Factory)

func WithWrapper(w Wrapper) FactoryOption {
	return func(f *Factory) {
		f.wrapper = w
	}
}

func WithScripted(p *ScriptedProvider) FactoryOption {
	return func(f *Factory) {
		f.scripted = p
	}
}

// Factory resolves provider names to shared provider instances.
type Factory struct {
	mu        sync.Mutex
	configs   map[string]Config
	defaultID string
	instances map[string]Provider
	wrapper   Wrapper
	scripted  *ScriptedProvider
}

// NewFactory registers the given endpoint configs. Missing base URLs and
// models are filled from the built-in defaults. The scripted provider is
// always available.
func NewFactory(defaultProvider string, configs []Config, options ...FactoryOption) *Factory {
	ret := &Factory{
		configs:   map[string]Config{},
		defaultID: strings.ToLower(defaultProvider),
		instances: map[string]Provider{},
	}
	for _, c := range configs {
		c.Name = strings.ToLower(c.Name)
		if c.BaseURL == "" {
			c.BaseURL = DefaultBaseURLs[c.Name]
		}
		if c.DefaultModel == "" {
			c.DefaultModel = DefaultModels[c.Name]
		}
		ret.configs[c.Name] = c
	}
	for _, o := range options {
		o(ret)
	}
	if ret.scripted == nil {
		ret.scripted = NewScriptedProvider()
	}
	if ret.defaultID == "" {
		ret.defaultID = OpenAI
	}
	return ret
}

func (f *Factory) DefaultName() string {
	return f.defaultID
}

// Get returns the provider registered under name, building it on first use.
// An empty name selects the default provider.
func (f *Factory) Get(name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = f.defaultID
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.instances[name]; ok {
		return p, nil
	}

	var p Provider
	if name == Scripted {
		p = f.scripted
	} else {
		config, ok := f.configs[name]
		if !ok {
			return nil, &UnknownProviderError{Name: name}
		}
		cp, err := NewChatProvider(config)
		if err != nil {
			return nil, err
		}
		p = cp
	}

	if f.wrapper != nil {
		p = f.wrapper(name, p)
	}
	f.instances[name] = p
	log.Debug().Str("provider", name).Msg("Created provider")
	return p, nil
}

// Completer returns the provider used for observer analysis, if it can run
// raw JSON completions.
func (f *Factory) Completer(name string) (Completer, error) {
	p, err := f.Get(name)
	if err != nil {
		return nil, err
	}
	c, ok := p.(Completer)
	if !ok {
		return nil, &UnknownProviderError{Name: name}
	}
	return c, nil
}
