// Package parameters handles generic configuration Params, a map[string]string that the
// user can set with a config string like "epochs=5,amp,learning_rate=0.01".
//
// Components take the keys they know (see PopParamOr), and whatever is left can be
// checked with CheckAllUsed, to catch typos.
package parameters

import (
	"fmt"
	"github.com/janpfeifer/lazyamp/internal/generics"
	"github.com/pkg/errors"
	"strconv"
	"strings"
)

// Params represent generic configuration parameters.
type Params map[string]string

// NewFromConfigString create params from user's configuration string.
// Empty entries are ignored, and a key without "=" gets an empty value.
// See GetParamOr and PopParamOr to parse values from this map.
func NewFromConfigString(config string) Params {
	params := make(Params)
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=") // Values may contain '='.
		params[key] = value
	}
	return params
}

// String returns the params as a config string, with keys sorted.
func (params Params) String() string {
	parts := make([]string, 0, len(params))
	for key, value := range generics.SortedKeysAndValues(params) {
		if value == "" {
			parts = append(parts, key)
		} else {
			parts = append(parts, fmt.Sprintf("%s=%s", key, value))
		}
	}
	return strings.Join(parts, ",")
}

// CheckAllUsed returns an error listing the keys left in params, if any.
// Call it after all components popped their parameters.
func CheckAllUsed(params Params) error {
	if len(params) == 0 {
		return nil
	}
	return errors.Errorf("unknown configuration parameters: %s", params)
}

// PopParamOr is like GetParamOr, but it also deletes from the params map the retrieved parameter.
func PopParamOr[T interface {
	bool | int | float32 | float64 | string
}](params Params, key string, defaultValue T) (T, error) {
	value, err := GetParamOr(params, key, defaultValue)
	if err != nil {
		return value, err
	}
	delete(params, key)
	return value, nil
}

// GetParamOr attempts to parse a parameter to the given type if the key is present, or returns the defaultValue
// if not.
//
// For bool types, a key without a value is interpreted as true.
func GetParamOr[T interface {
	bool | int | float32 | float64 | string
}](params Params, key string, defaultValue T) (T, error) {
	value, exists := params[key]
	if !exists {
		return defaultValue, nil
	}
	var parsed any
	var err error
	switch any(defaultValue).(type) {
	case string:
		parsed = value
	case int:
		if value == "" {
			return defaultValue, nil
		}
		parsed, err = strconv.Atoi(value)
	case float32:
		if value == "" {
			return defaultValue, nil
		}
		var f float64
		f, err = strconv.ParseFloat(value, 32)
		parsed = float32(f)
	case float64:
		if value == "" {
			return defaultValue, nil
		}
		parsed, err = strconv.ParseFloat(value, 64)
	case bool:
		switch strings.ToLower(value) {
		case "", "true", "1": // Empty value is considered "true"
			parsed = true
		case "false", "0":
			parsed = false
		default:
			err = errors.New("invalid bool")
		}
	}
	if err != nil {
		return defaultValue, errors.Wrapf(err, "failed to parse configuration %s=%q to %T", key, value, defaultValue)
	}
	return parsed.(T), nil
}
