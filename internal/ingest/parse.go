package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tinytelemetry/windstat/internal/model"
)

// ErrMalformed is returned for lines that match no supported format.
var ErrMalformed = errors.New("ingest: malformed measurement")

// unitScale converts a duration unit to microseconds.
var unitScale = map[string]float64{
	"ns": 1e-3,
	"us": 1,
	"µs": 1,
	"ms": 1e3,
	"s":  1e6,
}

// ParseLine parses one complete measurement line. Supported shapes:
//
//	name value
//	name=value
//	name:value|ms        (statsd; |@rate is ignored)
//	{"name": "...", "value": 12.5, "unit": "ms"}
//
// Values with a unit, either as a suffix ("12.5ms") or a JSON unit field,
// are normalised to microseconds. The result is rounded to an integer.
func ParseLine(line string) ([]model.Measurement, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if line[0] == '{' || line[0] == '[' {
		return ParseJSON(line)
	}
	if i := strings.IndexByte(line, '|'); i > 0 {
		return parseStatsd(line, i)
	}

	var name, value string
	if i := strings.IndexByte(line, '='); i > 0 {
		name, value = line[:i], line[i+1:]
	} else {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: %.80q", ErrMalformed, line)
		}
		name, value = fields[0], fields[1]
	}

	m, err := measurement(strings.TrimSpace(name), strings.TrimSpace(value), "")
	if err != nil {
		return nil, err
	}
	return []model.Measurement{m}, nil
}

func parseStatsd(line string, pipe int) ([]model.Measurement, error) {
	colon := strings.LastIndexByte(line[:pipe], ':')
	if colon <= 0 {
		return nil, fmt.Errorf("%w: statsd line without ':' %.80q", ErrMalformed, line)
	}
	kind := line[pipe+1:]
	if at := strings.IndexByte(kind, '|'); at >= 0 {
		kind = kind[:at]
	}

	unit := ""
	switch kind {
	case "ms":
		unit = "ms"
	case "h", "g", "c":
	default:
		return nil, fmt.Errorf("%w: statsd type %q", ErrMalformed, kind)
	}

	m, err := measurement(line[:colon], line[colon+1:pipe], unit)
	if err != nil {
		return nil, err
	}
	return []model.Measurement{m}, nil
}

type jsonMeasurement struct {
	Name   string    `json:"name"`
	Value  *float64  `json:"value"`
	Values []float64 `json:"values"`
	Unit   string    `json:"unit"`
}

// ParseJSON parses a JSON measurement object, or an array of them. An
// object may carry either "value" or a "values" list.
func ParseJSON(data string) ([]model.Measurement, error) {
	var objs []jsonMeasurement
	trimmed := strings.TrimSpace(data)
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &objs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		var obj jsonMeasurement
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		objs = append(objs, obj)
	}

	var out []model.Measurement
	for _, obj := range objs {
		if obj.Name == "" {
			return nil, fmt.Errorf("%w: json measurement without name", ErrMalformed)
		}
		values := obj.Values
		if obj.Value != nil {
			values = append([]float64{*obj.Value}, values...)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: json measurement %q without value", ErrMalformed, obj.Name)
		}
		for _, v := range values {
			n, err := normalise(v, obj.Unit)
			if err != nil {
				return nil, err
			}
			out = append(out, model.Measurement{Name: obj.Name, Value: n})
		}
	}
	return out, nil
}

// measurement parses value, which may carry a unit suffix unless unit is
// already known.
func measurement(name, value, unit string) (model.Measurement, error) {
	if name == "" {
		return model.Measurement{}, fmt.Errorf("%w: empty name", ErrMalformed)
	}
	if unit == "" {
		value, unit = splitUnit(value)
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return model.Measurement{}, fmt.Errorf("%w: value %q for %q", ErrMalformed, value, name)
	}
	n, err := normalise(f, unit)
	if err != nil {
		return model.Measurement{}, err
	}
	return model.Measurement{Name: name, Value: n}, nil
}

func splitUnit(value string) (string, string) {
	for _, u := range []string{"ns", "us", "µs", "ms", "s"} {
		if strings.HasSuffix(value, u) && len(value) > len(u) {
			return value[:len(value)-len(u)], u
		}
	}
	return value, ""
}

// IsDurationUnit reports whether unit is one of ns, us, µs, ms or s.
func IsDurationUnit(unit string) bool {
	_, ok := unitScale[unit]
	return ok
}

// Normalise converts v in unit to integer microseconds. An empty unit
// leaves v unscaled.
func Normalise(v float64, unit string) (int64, error) {
	return normalise(v, unit)
}

func normalise(v float64, unit string) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite value", ErrMalformed)
	}
	if unit != "" {
		scale, ok := unitScale[unit]
		if !ok {
			return 0, fmt.Errorf("%w: unknown unit %q", ErrMalformed, unit)
		}
		v *= scale
	}
	v = math.Round(v)
	if v >= math.MaxInt64 || v < math.MinInt64 {
		return 0, fmt.Errorf("%w: value out of range", ErrMalformed)
	}
	return int64(v), nil
}

// CountJSONDepth counts the net change in JSON nesting depth for a line.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}

		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}

	return depth
}
