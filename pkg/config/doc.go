// Package config loads application configuration from CHRONICLE_*
// environment variables with sane defaults, validates it at startup,
// and optionally hot-reloads capture settings from a watched JSON file.
package config
