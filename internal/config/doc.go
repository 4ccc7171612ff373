/*
Package config provides configuration for the asset cache engine: defaults,
YAML file loading, environment overrides, and fail-fast validation.

Configuration is assembled in layers, later layers overriding earlier ones:

 1. New() populates built-in defaults
 2. LoadFromFile() merges an optional YAML file
 3. ApplyEnv() merges ASSETCACHE_* environment variables
 4. Validate() checks the result and parses human-readable sizes

A Configuration that fails Validate is never usable: engine construction
refuses it rather than coercing values. After validation the configuration
is immutable for the process lifetime; there is no hot reload.

Capacity and threshold fields accept human-readable sizes:

	cache:
	  volatile_capacity: 256MB
	  durable_capacity: 2GB
	  small_size_threshold: 5MB
	  medium_size_threshold: 20MB

Environment overrides use the ASSETCACHE_ prefix, for example
ASSETCACHE_STORE_PATH, ASSETCACHE_LOG_LEVEL, ASSETCACHE_FETCH_TIMEOUT.
*/
package config
