// Package plan decodes, validates, normalizes and hashes campaign plans.
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
	"github.com/unclebandit/campaign-engine/internal/model"
)

// Parse decodes a JSON plan document.
func Parse(data []byte) (*model.CampaignPlan, error) {
	var p model.CampaignPlan
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&p); err != nil {
		return nil, &appErrors.PlanValidationError{Issues: []appErrors.Issue{{
			Severity: SeverityError,
			Field:    "document",
			Message:  err.Error(),
		}}}
	}
	return &p, nil
}

// ParseYAML decodes a YAML plan document by way of its JSON equivalent.
func ParseYAML(data []byte) (*model.CampaignPlan, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert yaml: %w", err)
	}
	return Parse(raw)
}

// Load reads a plan file, picking the decoder from its extension.
func Load(path string) (*model.CampaignPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return Parse(data)
	}
}
