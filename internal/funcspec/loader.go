package funcspec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format selects the syntax of a functions document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks the document format from a file extension. Unknown
// extensions fall back to content sniffing in Parse.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return ""
	}
}

// entry mirrors one element of the functions collection before validation.
type entry struct {
	Name        string   `json:"name" yaml:"name" toml:"name"`
	Parameters  []string `json:"parameters" yaml:"parameters" toml:"parameters"`
	ReturnType  string   `json:"returnType" yaml:"returnType" toml:"returnType"`
	Code        string   `json:"code" yaml:"code" toml:"code"`
	Description string   `json:"description" yaml:"description" toml:"description"`
}

type document struct {
	Functions *[]entry `json:"functions" yaml:"functions" toml:"functions"`
}

// Parse validates raw and returns its functions in declaration order. JSON
// documents are detected by a leading '{'; anything else is read as YAML.
func Parse(raw []byte) ([]FunctionSpec, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return ParseFormat(raw, FormatJSON)
	}
	return ParseFormat(raw, FormatYAML)
}

// ParseFormat validates raw as the given format.
func ParseFormat(raw []byte, format Format) ([]FunctionSpec, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, malformed("document is empty")
	}

	var doc document
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(raw, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(raw, &doc)
	case FormatTOML:
		err = toml.Unmarshal(raw, &doc)
	case "":
		return Parse(raw)
	default:
		return nil, malformed("unsupported document format %q", format)
	}
	if err != nil {
		return nil, malformed("decode %s: %v", format, err)
	}
	if doc.Functions == nil {
		return nil, malformed("document must declare a functions collection")
	}

	entries := *doc.Functions
	specs := make([]FunctionSpec, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, malformed("functions[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return nil, &ConfigError{Kind: ErrDuplicateName, Name: name}
		}
		seen[name] = struct{}{}

		rt, err := parseReturnType(e.ReturnType)
		if err != nil {
			return nil, malformed("functions[%d] %q: %v", i, name, err)
		}

		params := make([]string, 0, len(e.Parameters))
		for _, p := range e.Parameters {
			params = append(params, strings.TrimSpace(p))
		}

		specs = append(specs, FunctionSpec{
			Name:        name,
			Parameters:  params,
			ReturnType:  rt,
			Code:        e.Code,
			Description: strings.TrimSpace(e.Description),
		})
	}
	return specs, nil
}

// LoadFile reads path and parses it with the format implied by its extension.
func LoadFile(path string) ([]FunctionSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read functions file %q: %w", path, err)
	}
	specs, err := ParseFormat(raw, FormatForPath(path))
	if err != nil {
		return nil, fmt.Errorf("parse functions file %q: %w", path, err)
	}
	return specs, nil
}
