// Package config provides unified configuration for the chatflow
// orchestration core: defaults, YAML file loading, and environment variable
// overrides with the CHATFLOW prefix.
//
// Priority: defaults -> YAML file -> environment variables.
package config
