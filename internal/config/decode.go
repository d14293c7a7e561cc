package config

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Supported document formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// FormatFromPath infers the document format from a file extension.
func FormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported config format %q (want .json, .yaml, .yml or .toml)", filepath.Ext(path))
	}
}

func normalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported config format %q", format)
	}
}

// parseTree decodes a document into a generic tree. Keys keep their case so
// environment variable names survive intact.
func parseTree(data []byte, format string) (map[string]any, error) {
	tree := map[string]any{}
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &tree)
	case FormatYAML:
		err = yaml.Unmarshal(data, &tree)
	case FormatTOML:
		err = toml.Unmarshal(data, &tree)
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", format, err)
	}
	if tree == nil {
		tree = map[string]any{}
	}
	return tree, nil
}

// decodeFile maps a tree onto FileConfig and reports keys nothing consumed.
func decodeFile(tree map[string]any) (FileConfig, []string, error) {
	var fc FileConfig
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(durationHook, stringListHook),
		Metadata:   &md,
		Result:     &fc,
	})
	if err != nil {
		return fc, nil, err
	}
	if err := dec.Decode(tree); err != nil {
		return fc, nil, err
	}
	return fc, md.Unused, nil
}

var (
	durationType   = reflect.TypeOf(time.Duration(0))
	stringListType = reflect.TypeOf(StringList(nil))
)

// durationHook accepts "1.5s" style strings or plain numbers in milliseconds,
// the unit pm2 uses for its delay fields.
func durationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		s := strings.TrimSpace(v)
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
		if ms, err := strconv.ParseFloat(s, 64); err == nil {
			return msToDuration(ms), nil
		}
		return nil, fmt.Errorf("invalid duration %q", v)
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case uint64:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return msToDuration(v), nil
	case time.Duration:
		return v, nil
	}
	return data, nil
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}

// StringList decodes from either a single string or a list of strings.
type StringList []string

func stringListHook(from, to reflect.Type, data any) (any, error) {
	if to != stringListType {
		return data, nil
	}
	if s, ok := data.(string); ok {
		return StringList{s}, nil
	}
	return data, nil
}

// stringify renders a scalar config value as an environment string.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprint(x)
	default:
		return fmt.Sprint(x)
	}
}
