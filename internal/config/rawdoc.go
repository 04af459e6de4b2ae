package config

import "encoding/json"

// mergeKnown overlays the known fields of an AgentConfig onto a
// previously loaded raw document, leaving any key not recognized by
// AgentConfig untouched. This is how Apply satisfies §6's "unknown keys
// are preserved on rewrite (the updater mutates only recognized keys)".
func mergeKnown(raw map[string]json.RawMessage, cfg AgentConfig) (map[string]json.RawMessage, error) {
	knownBytes, err := json.Marshal(struct {
		Agent    AgentSection    `json:"Agent"`
		SiemCore SiemCoreSection `json:"SiemCore"`
	}{cfg.Agent, cfg.SiemCore})
	if err != nil {
		return nil, err
	}

	var known map[string]json.RawMessage
	if err := json.Unmarshal(knownBytes, &known); err != nil {
		return nil, err
	}

	merged := make(map[string]json.RawMessage, len(raw)+len(known))
	for k, v := range raw {
		merged[k] = v
	}
	for k, v := range known {
		merged[k] = v
	}
	return merged, nil
}

// decodeDocument parses file bytes into both the raw key map (for
// preservation) and the structured AgentConfig (for validation/use).
func decodeDocument(data []byte) (map[string]json.RawMessage, AgentConfig, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, AgentConfig{}, err
	}
	var cfg AgentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, AgentConfig{}, err
	}
	return raw, cfg, nil
}
