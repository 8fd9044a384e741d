package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Input document formats accepted by --input-format.
const (
	inputFormatAuto = "auto"
	inputFormatJSON = "json"
	inputFormatYAML = "yaml"
)

// readDocument reads a JSON or YAML document from path, or from stdin when
// path is empty or "-". The result always has JSON value types.
func readDocument(path, format string, stdin io.Reader) (any, error) {
	var (
		data []byte
		err  error
	)

	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	return parseDocument(data, resolveInputFormat(path, format))
}

func resolveInputFormat(path, format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "" && format != inputFormatAuto {
		if format == "yml" {
			return inputFormatYAML
		}
		return format
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return inputFormatYAML
	case ".json":
		return inputFormatJSON
	}
	return inputFormatAuto
}

func parseDocument(data []byte, format string) (any, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("input is empty")
	}

	switch format {
	case inputFormatJSON:
		return parseJSON(data)
	case inputFormatYAML:
		return parseYAML(data)
	case inputFormatAuto:
		if v, err := parseJSON(data); err == nil {
			return v, nil
		}
		return parseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported input format: %s", format)
	}
}

func parseJSON(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse JSON input: %w", err)
	}
	return v, nil
}

// parseYAML decodes YAML and re-reads it as JSON so numbers and maps carry
// the same types as a JSON request body.
func parseYAML(data []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse YAML input: %w", err)
	}

	encoded, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return nil, fmt.Errorf("convert YAML input: %w", err)
	}
	return parseJSON(encoded)
}

func normalizeYAML(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return value
	}
}

func writeDocument(w io.Writer, v any, pretty bool) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
