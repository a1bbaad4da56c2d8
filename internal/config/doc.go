// Package config reads the runtime configuration of the circulation CLI from .env files and
// environment variables, and turns it into engine options, database configs and a logger.
package config
