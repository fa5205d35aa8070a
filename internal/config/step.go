package config

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/vk/cleanstep/internal/steperr"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Step is the complete, merged configuration of one cleaning run.
type Step struct {
	InputArtifact     string
	OutputArtifact    string
	OutputType        string
	OutputDescription string
	MinPrice          float64
	MaxPrice          float64

	PriceColumn string
	DateColumn  string
	OutputFile  string
	WorkDir     string

	RegistryRoot string
	UploadURL    string

	TrackingURL       string
	TrackingNamespace string
	TrackingInsecure  bool
	// TrackingTimeout bounds the connect handshake and the wait for the
	// final event's acknowledgement, e.g. "15s".
	TrackingTimeout string

	LogLevel  string
	LogFormat string
}

// Default returns the built-in defaults.
func Default() Step {
	return Step{
		PriceColumn:       "price",
		DateColumn:        "last_review",
		OutputFile:        "cleaned_data.csv",
		WorkDir:           ".",
		RegistryRoot:      ".cleanstep",
		TrackingNamespace: "/",
		TrackingTimeout:   "15s",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// field binds a setting name to its Step field.
type field struct {
	ptr      func(*Step) any
	required bool
}

var fields = map[string]field{
	"input_artifact":     {ptr: func(s *Step) any { return &s.InputArtifact }, required: true},
	"output_artifact":    {ptr: func(s *Step) any { return &s.OutputArtifact }, required: true},
	"output_type":        {ptr: func(s *Step) any { return &s.OutputType }, required: true},
	"output_description": {ptr: func(s *Step) any { return &s.OutputDescription }, required: true},
	"min_price":          {ptr: func(s *Step) any { return &s.MinPrice }, required: true},
	"max_price":          {ptr: func(s *Step) any { return &s.MaxPrice }, required: true},
	"price_column":       {ptr: func(s *Step) any { return &s.PriceColumn }},
	"date_column":        {ptr: func(s *Step) any { return &s.DateColumn }},
	"output_file":        {ptr: func(s *Step) any { return &s.OutputFile }},
	"work_dir":           {ptr: func(s *Step) any { return &s.WorkDir }},
	"registry_root":      {ptr: func(s *Step) any { return &s.RegistryRoot }},
	"upload_url":         {ptr: func(s *Step) any { return &s.UploadURL }},
	"tracking_url":       {ptr: func(s *Step) any { return &s.TrackingURL }},
	"tracking_namespace": {ptr: func(s *Step) any { return &s.TrackingNamespace }},
	"tracking_insecure":  {ptr: func(s *Step) any { return &s.TrackingInsecure }},
	"tracking_timeout":   {ptr: func(s *Step) any { return &s.TrackingTimeout }},
	"log_level":          {ptr: func(s *Step) any { return &s.LogLevel }},
	"log_format":         {ptr: func(s *Step) any { return &s.LogFormat }},
}

// Names returns every setting name, sorted.
func Names() []string {
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Set assigns a cty value to the named setting, converting it to the
// field's Go type.
func (s *Step) Set(name string, val cty.Value) error {
	f, ok := fields[name]
	if !ok {
		return fmt.Errorf("unknown setting %q", name)
	}
	target := f.ptr(s)

	ty, err := gocty.ImpliedType(reflect.ValueOf(target).Elem().Interface())
	if err != nil {
		return fmt.Errorf("setting %q: %w", name, err)
	}
	converted, err := convert.Convert(val, ty)
	if err != nil {
		return fmt.Errorf("setting %q: cannot convert %s to %s: %w", name, val.Type().FriendlyName(), ty.FriendlyName(), err)
	}
	if converted.IsNull() {
		return fmt.Errorf("setting %q: value must not be null", name)
	}
	if err := gocty.FromCtyValue(converted, target); err != nil {
		return fmt.Errorf("setting %q: %w", name, err)
	}
	return nil
}

// Validate checks required settings, the policy on price bounds and the
// logging settings.
func (s *Step) Validate(set map[string]bool) error {
	var missing []string
	for _, name := range Names() {
		if fields[name].required && !set[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return steperr.Newf(steperr.KindValidation, "config", "missing required settings: %s", strings.Join(missing, ", "))
	}

	for _, v := range []string{s.InputArtifact, s.OutputArtifact, s.OutputType} {
		if strings.TrimSpace(v) == "" {
			return steperr.Newf(steperr.KindValidation, "config", "artifact names and type must not be empty")
		}
	}
	if math.IsNaN(s.MinPrice) || math.IsNaN(s.MaxPrice) {
		return steperr.Newf(steperr.KindValidation, "config", "price bounds must be numbers")
	}
	if s.MinPrice > s.MaxPrice {
		return steperr.Newf(steperr.KindValidation, "config", "min_price (%v) must not exceed max_price (%v)", s.MinPrice, s.MaxPrice)
	}
	return s.ValidateAmbient()
}

// ValidateAmbient checks only the settings every command shares.
func (s *Step) ValidateAmbient() error {
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return steperr.Newf(steperr.KindValidation, "config", "invalid log_level %q: must be 'debug', 'info', 'warn', or 'error'", s.LogLevel)
	}
	switch s.LogFormat {
	case "text", "json":
	default:
		return steperr.Newf(steperr.KindValidation, "config", "invalid log_format %q: must be 'text' or 'json'", s.LogFormat)
	}
	if strings.TrimSpace(s.RegistryRoot) == "" {
		return steperr.Newf(steperr.KindValidation, "config", "registry_root must not be empty")
	}
	if d, err := time.ParseDuration(s.TrackingTimeout); err != nil || d <= 0 {
		return steperr.Newf(steperr.KindValidation, "config", "invalid tracking_timeout %q: must be a positive duration such as '15s'", s.TrackingTimeout)
	}
	return nil
}

// TrackingTimeoutDuration returns the parsed tracking_timeout. It is only
// meaningful after validation.
func (s *Step) TrackingTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(s.TrackingTimeout)
	return d
}

// Snapshot returns every setting as a cty value, for recording on the run.
func (s *Step) Snapshot() map[string]cty.Value {
	out := make(map[string]cty.Value, len(fields))
	for name, f := range fields {
		val := reflect.ValueOf(f.ptr(s)).Elem().Interface()
		ty, err := gocty.ImpliedType(val)
		if err != nil {
			continue
		}
		v, err := gocty.ToCtyValue(val, ty)
		if err != nil {
			continue
		}
		out[name] = v
	}
	return out
}
