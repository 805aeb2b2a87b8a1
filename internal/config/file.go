package config

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads properties from a YAML, JSON or Java-style .properties file.
// Nested YAML/JSON maps are flattened with "_", so
//
//	dotted:
//	  cluster_hosts: 10.0.0.1:10017
//
// yields dotted_cluster_hosts.
func LoadFile(path string) (Properties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		return flatten(tree), nil
	case ".json":
		var tree map[string]any
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return flatten(tree), nil
	case ".properties", ".conf":
		return parseProperties(data)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
}

func flatten(tree map[string]any) Properties {
	props := make(Properties)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			key := k
			if prefix != "" {
				key = prefix + "_" + k
			}
			switch v := v.(type) {
			case map[string]any:
				walk(key, v)
			case nil:
				props[key] = ""
			case []any:
				parts := make([]string, len(v))
				for i, item := range v {
					parts[i] = fmt.Sprint(item)
				}
				props[key] = strings.Join(parts, ",")
			default:
				props[key] = fmt.Sprint(v)
			}
		}
	}
	walk("", tree)
	return props
}

func parseProperties(data []byte) (Properties, error) {
	props := make(Properties)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || text[0] == '#' || text[0] == '!' {
			continue
		}
		idx := strings.IndexAny(text, "=:")
		if idx <= 0 {
			return nil, fmt.Errorf("line %d: expected key=value", line)
		}
		props[strings.TrimSpace(text[:idx])] = strings.TrimSpace(text[idx+1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read properties: %w", err)
	}
	return props, nil
}
