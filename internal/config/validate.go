package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError names a single rejected field and why.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult is the structured outcome of Validate: zero or more
// errors (any of which rejects the document), zero or more warnings
// (which do not), and whether applying the document would require a
// process restart to take full effect.
type ValidationResult struct {
	Errors          []ValidationError
	Warnings        []string
	RestartRequired bool
}

// OK reports whether the document passed validation (no errors; warnings
// are still permitted).
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// configSchema is the structural shape gojsonschema checks before the
// hand-written range/business rules run: required keys present, right
// JSON types. It intentionally does not encode range bounds — those are
// this package's own concern, not a generic schema's.
const configSchema = `{
  "type": "object",
  "required": ["Agent", "SiemCore"],
  "properties": {
    "Agent": {
      "type": "object",
      "required": ["agentId", "agentVersion", "logLevel", "sources"],
      "properties": {
        "agentId": {"type": "string"},
        "agentVersion": {"type": "string"},
        "logLevel": {"type": "string"},
        "enableLocalAnalysis": {"type": "boolean"},
        "enableEventFiltering": {"type": "boolean"},
        "sources": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name", "type", "enabled"],
            "properties": {
              "name": {"type": "string"},
              "type": {"type": "string"},
              "enabled": {"type": "boolean"},
              "collectionIntervalSec": {"type": "integer"}
            }
          }
        }
      }
    },
    "SiemCore": {
      "type": "object",
      "required": ["apiBaseUrl", "apiKey", "batchSize", "flushIntervalSec", "maxRetries", "maxCachedEvents", "healthCheckIntervalSec", "configRefreshIntervalSec"],
      "properties": {
        "apiBaseUrl": {"type": "string"},
        "apiKey": {"type": "string"},
        "batchSize": {"type": "integer"},
        "flushIntervalSec": {"type": "integer"},
        "maxRetries": {"type": "integer"},
        "retryDelaySec": {"type": "integer"},
        "maxCachedEvents": {"type": "integer"},
        "healthCheckIntervalSec": {"type": "integer"},
        "configRefreshIntervalSec": {"type": "integer"}
      }
    }
  }
}`

var compiledSchema *gojsonschema.Schema

func schema() (*gojsonschema.Schema, error) {
	if compiledSchema != nil {
		return compiledSchema, nil
	}
	loader := gojsonschema.NewStringLoader(configSchema)
	s, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("config: compiling schema: %w", err)
	}
	compiledSchema = s
	return s, nil
}

var recognizedSourceTypes = map[string]bool{
	"FileLog": true,
	"OsEvent": true,
	"Syslog":  true,
}

var validSeverityFilters = map[string]bool{
	"": true, "low": true, "medium": true, "high": true, "critical": true,
}

var validLogLevels = map[LogLevel]bool{
	LogLevelTrace: true, LogLevelDebug: true, LogLevelInformation: true,
	LogLevelWarning: true, LogLevelError: true, LogLevelCritical: true,
}

// Validate checks candidate against the structural schema, then the
// range and business rules from §3, and classifies the change against
// current (nil for first load — nothing can be restart-required yet).
func Validate(candidate AgentConfig, current *AgentConfig, raw map[string]any) ValidationResult {
	var result ValidationResult

	s, err := schema()
	if err == nil {
		docLoader := gojsonschema.NewGoLoader(raw)
		if schemaResult, serr := s.Validate(docLoader); serr == nil && !schemaResult.Valid() {
			for _, re := range schemaResult.Errors() {
				result.Errors = append(result.Errors, ValidationError{
					Field:   re.Field(),
					Message: re.Description(),
				})
			}
		}
	}

	addErr := func(field, msg string) {
		result.Errors = append(result.Errors, ValidationError{Field: field, Message: msg})
	}

	if strings.TrimSpace(candidate.Agent.AgentID) == "" {
		addErr("Agent.agentId", "must not be empty")
	}
	if !validLogLevels[candidate.Agent.LogLevel] {
		addErr("Agent.logLevel", "unrecognized log level")
	}
	for i, src := range candidate.Agent.Sources {
		field := fmt.Sprintf("Agent.sources[%d]", i)
		if strings.TrimSpace(src.Name) == "" {
			addErr(field+".name", "must not be empty")
		}
		if !recognizedSourceTypes[src.Type] {
			addErr(field+".type", fmt.Sprintf("unrecognized source type %q", src.Type))
		}
		if src.SeverityFilter != "" && !validSeverityFilters[strings.ToLower(src.SeverityFilter)] {
			addErr(field+".severityFilter", "unrecognized severity")
		}
	}

	if strings.TrimSpace(candidate.SiemCore.APIBaseURL) == "" {
		addErr("SiemCore.apiBaseUrl", "must not be empty")
	}
	if candidate.SiemCore.BatchSize < 1 || candidate.SiemCore.BatchSize > 10_000 {
		addErr("SiemCore.batchSize", "must be in [1, 10000]")
	}
	if candidate.SiemCore.FlushIntervalSec < 1 || candidate.SiemCore.FlushIntervalSec > 3600 {
		addErr("SiemCore.flushIntervalSec", "must be in [1, 3600]")
	}
	if candidate.SiemCore.MaxRetries < 0 || candidate.SiemCore.MaxRetries > 10 {
		addErr("SiemCore.maxRetries", "must be in [0, 10]")
	}
	if candidate.SiemCore.MaxCachedEvents < 1 || candidate.SiemCore.MaxCachedEvents > 1_000_000 {
		addErr("SiemCore.maxCachedEvents", "must be in [1, 1000000]")
	}
	if candidate.SiemCore.HealthCheckIntervalSec < 10 || candidate.SiemCore.HealthCheckIntervalSec > 3600 {
		addErr("SiemCore.healthCheckIntervalSec", "must be in [10, 3600]")
	}
	if candidate.SiemCore.ConfigRefreshIntervalSec < 60 || candidate.SiemCore.ConfigRefreshIntervalSec > 86400 {
		addErr("SiemCore.configRefreshIntervalSec", "must be in [60, 86400]")
	}

	if len(candidate.Agent.Sources) == 0 {
		result.Warnings = append(result.Warnings, "no sources configured")
	}

	if current != nil {
		curURL, curKey, curHealth, curRefresh := current.restartFields()
		newURL, newKey, newHealth, newRefresh := candidate.restartFields()
		result.RestartRequired = curURL != newURL || curKey != newKey ||
			curHealth != newHealth || curRefresh != newRefresh
	}

	return result
}
