package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Common errors for configuration loading. A configuration that fails to
// load is fatal: the server refuses to start.
var (
	ErrFileNotFound     = errors.New("configuration file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidJSON      = errors.New("invalid JSON syntax")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrEmptyFile        = errors.New("configuration file is empty")
	ErrEmptyDocument    = errors.New("configuration document has no records")
)

// LoadFromFile reads a configuration Document from a JSON or YAML file.
// The format is auto-detected by extension (.yaml/.yml for YAML, otherwise
// JSON). Returns wrapped errors for common failure cases.
func LoadFromFile(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", path)
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		return ParseYAML(data)
	}
	return ParseJSON(data)
}

// ParseJSON parses JSON bytes into a Document with schema validation.
func ParseJSON(data []byte) (*Document, error) {
	if !json.Valid(data) {
		return nil, ErrInvalidJSON
	}
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return classify(records)
}

// ParseYAML parses YAML bytes into a Document with schema validation.
func ParseYAML(data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	// Route YAML documents through the same JSON schema as JSON documents.
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if err := ValidateSchema(jsonData); err != nil {
		return nil, err
	}

	var records []record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return classify(records)
}

// classify splits raw records into HTTP routes and WebSocket endpoints,
// preserving configuration order within each class.
func classify(records []record) (*Document, error) {
	if len(records) == 0 {
		return nil, ErrEmptyDocument
	}

	doc := &Document{}
	for i, rec := range records {
		switch {
		case rec.Path != "":
			doc.Endpoints = append(doc.Endpoints, &WSEndpoint{
				Path:      rec.Path,
				OnConnect: rec.OnConnect,
				OnMessage: rec.OnMessage,
				OnClose:   rec.OnClose,
			})
		case rec.URL != "":
			if rec.Method == "" {
				return nil, &ValidationError{
					Path:    fmt.Sprintf("[%d].method", i),
					Message: "required for HTTP routes",
				}
			}
			if rec.Response == nil {
				return nil, &ValidationError{
					Path:    fmt.Sprintf("[%d].response", i),
					Message: "required for HTTP routes",
				}
			}
			doc.Routes = append(doc.Routes, &HTTPRoute{
				URL:      rec.URL,
				Method:   rec.Method,
				Response: rec.Response,
				DelayMs:  rec.DelayMs,
			})
		default:
			return nil, &ValidationError{
				Path:    fmt.Sprintf("[%d]", i),
				Message: `record needs "url" (HTTP) or "path" (WebSocket)`,
			}
		}
	}
	return doc, nil
}
