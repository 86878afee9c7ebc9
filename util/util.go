package util

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"time"

	"github.com/autom8ter/docrepl/errors"
	"github.com/ghodss/yaml"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cast"
)

var validate = validator.New()

// ValidateStruct validates the struct against its `validate` tags
func ValidateStruct(val any) error {
	return errors.Wrap(validate.Struct(val), errors.Validation, "")
}

// Decode decodes the input into the output based on json tags
func Decode(input any, output any) error {
	config := &mapstructure.DecoderConfig{
		WeaklyTypedInput:     true,
		Result:               output,
		TagName:              "json",
		IgnoreUntaggedFields: true,
		DecodeHook:           mapstructure.StringToTimeDurationHookFunc(),
	}
	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// JSONString returns a json string of the input
func JSONString(input any) string {
	bits, _ := json.Marshal(input)
	return string(bits)
}

// EncodeIndexValue encodes the value so that byte ordering follows value ordering for
// strings and non-negative numbers
func EncodeIndexValue(value any) []byte {
	if value == nil {
		return []byte("")
	}
	switch value := value.(type) {
	case bool:
		return EncodeIndexValue(cast.ToString(value))
	case string:
		return []byte(value)
	case float64, float32:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, sortableFloat(cast.ToFloat64(value)))
		return buf
	case int, int64, int32, uint64, uint32, uint16:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, sortableFloat(cast.ToFloat64(value)))
		return buf
	case time.Time:
		return EncodeIndexValue(value.UnixNano())
	case time.Duration:
		return EncodeIndexValue(int(value))
	default:
		return EncodeIndexValue(JSONString(value))
	}
}

// sortableFloat flips the float bits so negative values sort before positive ones
func sortableFloat(f float64) uint64 {
	bits := math.Float64bits(f)
	if f < 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

// YAMLToJSON converts yaml to json. json input is returned as is.
func YAMLToJSON(yamlContent []byte) ([]byte, error) {
	if isJSON(string(yamlContent)) {
		return yamlContent, nil
	}
	return yaml.YAMLToJSON(yamlContent)
}

// JSONToYAML converts json to yaml
func JSONToYAML(jsonContent []byte) ([]byte, error) {
	return yaml.JSONToYAML(jsonContent)
}

func isJSON(str string) bool {
	var js json.RawMessage
	return json.Unmarshal([]byte(str), &js) == nil
}
