package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/assetcache/assetcache/pkg/types"
)

type options struct {
	logger  *zap.Logger
	fetcher types.Fetcher
	store   types.DurableStore
}

// Option customizes engine construction.
type Option func(*options)

// WithLogger injects a logger instead of building one from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithFetcher injects a source fetcher instead of the standard dispatcher.
func WithFetcher(fetcher types.Fetcher) Option {
	return func(o *options) { o.fetcher = fetcher }
}

// WithStore injects a durable store instead of opening one from
// configuration. The engine still closes it on Close.
func WithStore(store types.DurableStore) Option {
	return func(o *options) { o.store = store }
}

// LoadOptions tune one LoadAsset call. A nil *LoadOptions means defaults:
// cache lookups enabled, the configured fetch timeout, the configured TTL,
// and no derived encoding.
type LoadOptions struct {
	// UseCache consults the tiers before fetching.
	UseCache bool

	// Timeout bounds each fetch attempt; zero means the configured default.
	Timeout time.Duration

	// TTL overrides the configured default TTL when positive.
	TTL time.Duration

	// EncodeContent derives the text-safe EncodedContent form.
	EncodeContent bool
}

func (o *LoadOptions) withDefaults() *LoadOptions {
	if o == nil {
		return &LoadOptions{UseCache: true}
	}
	return o
}
