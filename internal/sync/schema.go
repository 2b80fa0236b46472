package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"fieldsync/internal/logger"
)

// PayloadValidator validates mutation payloads against per-entity-type JSON
// Schemas. Entity types without a schema file pass through unchecked.
type PayloadValidator struct {
	schemas map[string]*jsonschema.Schema
}

// LoadPayloadValidator compiles every <entity_type>.json in dir. An empty dir
// disables validation entirely.
func LoadPayloadValidator(dir string) (*PayloadValidator, error) {
	v := &PayloadValidator{schemas: make(map[string]*jsonschema.Schema)}
	if strings.TrimSpace(dir) == "" {
		return v, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema dir: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		sch, err := compiler.Compile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", entry.Name(), err)
		}
		entityType := strings.TrimSuffix(entry.Name(), ".json")
		v.schemas[entityType] = sch
		logger.Log.Info("Loaded payload schema", zap.String("entityType", entityType))
	}
	return v, nil
}

func (v *PayloadValidator) Validate(entityType string, payload json.RawMessage) error {
	sch, ok := v.schemas[entityType]
	if !ok {
		return nil
	}
	if len(payload) == 0 {
		return fmt.Errorf("payload is required for entity type %q", entityType)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("payload does not match %q schema: %w", entityType, err)
	}
	return nil
}
