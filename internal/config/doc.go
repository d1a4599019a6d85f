// Package config loads and validates ingestor configuration.
//
// Configuration is YAML with ${VAR} environment expansion, loaded in
// three stages: Load (parse), LoadWithDefaults (parse + defaults),
// LoadAndValidate (parse + defaults + validation). The core pipeline
// only ever sees a validated config.
package config
