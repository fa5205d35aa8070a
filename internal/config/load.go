package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/joho/godotenv"
	"github.com/vk/cleanstep/internal/ctxlog"
	"github.com/vk/cleanstep/internal/steperr"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// EnvPrefix prefixes every setting read from the environment, e.g.
// CLEANSTEP_MIN_PRICE.
const EnvPrefix = "CLEANSTEP_"

// DefaultEnvFile is read when LoadOptions.EnvFile is empty. It may be absent.
const DefaultEnvFile = ".env"

// LoadOptions names the sources Load merges.
type LoadOptions struct {
	// ConfigFile is an optional HCL step file.
	ConfigFile string
	// EnvFile is a dotenv file. Unlike the default, an explicit file must exist.
	EnvFile string
	// Flags holds command-line values keyed by setting name.
	Flags map[string]string
	// Environ returns the process environment as KEY=VALUE pairs. Defaults
	// to os.Environ.
	Environ func() []string
	// AmbientOnly skips the run parameter checks, for commands that only
	// touch the registry.
	AmbientOnly bool
}

// fileRoot is the top level of a step file.
type fileRoot struct {
	Steps    []*stepBlock `hcl:"step,block"`
	Registry *attrBlock   `hcl:"registry,block"`
	Tracking *attrBlock   `hcl:"tracking,block"`
	Logging  *attrBlock   `hcl:"logging,block"`
}

type stepBlock struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

type attrBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// blockSettings maps attributes of the auxiliary blocks to setting names.
var blockSettings = map[string]map[string]string{
	"registry": {"root": "registry_root", "upload_url": "upload_url"},
	"tracking": {"url": "tracking_url", "namespace": "tracking_namespace", "insecure": "tracking_insecure", "timeout": "tracking_timeout"},
	"logging":  {"level": "log_level", "format": "log_format"},
}

// Load merges defaults, the dotenv file, the process environment, the HCL
// step file and flags, in increasing order of precedence, then validates
// the result.
func Load(ctx context.Context, opts LoadOptions) (*Step, error) {
	logger := ctxlog.FromContext(ctx)

	step := Default()
	set := make(map[string]bool)
	assign := func(source, name string, val cty.Value) error {
		if err := step.Set(name, val); err != nil {
			return steperr.New(steperr.KindValidation, "config", source, err)
		}
		set[name] = true
		return nil
	}

	env, err := readEnv(opts)
	if err != nil {
		return nil, err
	}
	for _, name := range Names() {
		if v, ok := env[envKey(name)]; ok {
			if err := assign("environment", name, cty.StringVal(v)); err != nil {
				return nil, err
			}
		}
	}

	if opts.ConfigFile != "" {
		values, err := readHCL(opts.ConfigFile, env)
		if err != nil {
			return nil, err
		}
		for _, name := range sortedKeys(values) {
			if err := assign(opts.ConfigFile, name, values[name]); err != nil {
				return nil, err
			}
		}
		logger.Debug("Step file loaded.", "path", opts.ConfigFile, "settings", len(values))
	}

	for _, name := range sortedKeys(opts.Flags) {
		if _, ok := fields[name]; !ok {
			return nil, steperr.Newf(steperr.KindInvalidInvocation, "config", "unknown flag setting %q", name)
		}
		if err := assign("flags", name, cty.StringVal(opts.Flags[name])); err != nil {
			return nil, err
		}
	}

	validate := func() error { return step.Validate(set) }
	if opts.AmbientOnly {
		validate = step.ValidateAmbient
	}
	if err := validate(); err != nil {
		return nil, err
	}
	logger.Debug("Configuration resolved.", "settings_set", len(set))
	return &step, nil
}

func envKey(name string) string {
	return EnvPrefix + strings.ToUpper(name)
}

// readEnv returns the dotenv file overlaid with the process environment.
func readEnv(opts LoadOptions) (map[string]string, error) {
	path := opts.EnvFile
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}

	env := make(map[string]string)
	fileVals, err := godotenv.Read(path)
	switch {
	case err == nil:
		for k, v := range fileVals {
			env[k] = v
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, steperr.New(steperr.KindInvalidInvocation, "config", fmt.Sprintf("reading env file %s", path), err)
	}

	environ := opts.Environ
	if environ == nil {
		environ = os.Environ
	}
	for _, kv := range environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env, nil
}

// readHCL parses a step file into setting values.
func readHCL(path string, env map[string]string) (map[string]cty.Value, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, steperr.New(steperr.KindInvalidInvocation, "config", fmt.Sprintf("failed to parse HCL file %s", path), diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, steperr.New(steperr.KindInvalidInvocation, "config", fmt.Sprintf("failed to decode HCL file %s", path), diags)
	}
	if len(root.Steps) > 1 {
		return nil, steperr.Newf(steperr.KindInvalidInvocation, "config", "%s: expected one step block, found %d", path, len(root.Steps))
	}

	evalCtx := newEvalContext(env)
	values := make(map[string]cty.Value)

	collect := func(body hcl.Body, rename map[string]string) error {
		attrs, diags := body.JustAttributes()
		if diags.HasErrors() {
			return steperr.New(steperr.KindInvalidInvocation, "config", path, diags)
		}
		for key, attr := range attrs {
			name := key
			if rename != nil {
				mapped, ok := rename[key]
				if !ok {
					return steperr.Newf(steperr.KindInvalidInvocation, "config", "%s: unsupported attribute %q", attr.Range.String(), key)
				}
				name = mapped
			} else if _, ok := fields[key]; !ok {
				return steperr.Newf(steperr.KindInvalidInvocation, "config", "%s: unsupported attribute %q", attr.Range.String(), key)
			}
			val, diags := attr.Expr.Value(evalCtx)
			if diags.HasErrors() {
				return steperr.New(steperr.KindInvalidInvocation, "config", attr.Range.String(), diags)
			}
			values[name] = val
		}
		return nil
	}

	if len(root.Steps) == 1 {
		if err := collect(root.Steps[0].Body, nil); err != nil {
			return nil, err
		}
	}
	blocks := map[string]*attrBlock{"registry": root.Registry, "tracking": root.Tracking, "logging": root.Logging}
	for _, kind := range []string{"registry", "tracking", "logging"} {
		if b := blocks[kind]; b != nil {
			if err := collect(b.Body, blockSettings[kind]); err != nil {
				return nil, err
			}
		}
	}
	return values, nil
}

// newEvalContext exposes the environment as `env.NAME` and a small set of
// string functions to step files.
func newEvalContext(env map[string]string) *hcl.EvalContext {
	envVals := make(map[string]cty.Value, len(env))
	for k, v := range env {
		if validIdent(k) {
			envVals[k] = cty.StringVal(v)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(envVals)},
		Functions: map[string]function.Function{
			"upper":     stdlib.UpperFunc,
			"lower":     stdlib.LowerFunc,
			"format":    stdlib.FormatFunc,
			"coalesce":  stdlib.CoalesceFunc,
			"trimspace": stdlib.TrimSpaceFunc,
		},
	}
}

// validIdent reports whether k can be used as an attribute name.
func validIdent(k string) bool {
	if k == "" {
		return false
	}
	for i, r := range k {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '-' || r >= '0' && r <= '9'):
		default:
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
