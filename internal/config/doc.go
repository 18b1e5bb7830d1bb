// Package config loads, normalizes, and validates radt1cal configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// RADT1CAL_TEMPLATE, RADT1CAL_ATLAS and TEST_MODE. The Config type carries the
// template and atlas locations, tool names and stage parameters explicitly so
// no pipeline code reads process-wide state.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
