package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// ConfigError is returned by LoadConfig and the Require* checks.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks a variable whose value is a parameter path.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution.
const localEnv = "local"

// loaderDeps abstracts process environment access so tests do not mutate
// global state.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the configuration.
//
// SSM pointer variables (NAME_SSM_PARAM=/path) are resolved through provider
// unless APP_ENV is "local"; provider may be nil when nothing needs resolving.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	// All epoch-millisecond arithmetic assumes UTC rendering.
	time.Local = time.UTC

	// godotenv never overrides variables that are already set.
	_ = godotenv.Load()

	appEnv, _ := deps.lookupEnv("APP_ENV")
	if appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := newValidator().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// cronParser accepts six-field expressions (seconds first) and descriptors
// such as @every 5m.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a sweep schedule expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return cronParser.Parse(spec)
}

// newValidator returns a validator with the config-specific tags registered.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
		_, err := ParseSchedule(fl.Field().String())
		return err == nil
	})
	return v
}

// ssmResolveTimeout bounds the single batched parameter fetch at startup.
const ssmResolveTimeout = 30 * time.Second

// ssmPointers maps each parameter path to the variables it fills. A
// variable that is already set (process env or .env) keeps its value.
func ssmPointers(deps loaderDeps) map[string][]string {
	pointers := make(map[string][]string)
	for _, entry := range deps.environ() {
		name, path, ok := strings.Cut(entry, "=")
		if !ok || path == "" {
			continue
		}
		target, ok := strings.CutSuffix(name, ssmParamSuffix)
		if !ok || target == "" {
			continue
		}
		if _, set := deps.lookupEnv(target); set {
			continue
		}
		pointers[path] = append(pointers[path], target)
	}
	return pointers
}

// resolveSSMParams fills every NAME from its NAME_SSM_PARAM pointer with one
// provider call, so JWT_SECRET_SSM_PARAM=/prod/classifieds/auth/jwt sets
// JWT_SECRET.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	pointers := ssmPointers(deps)
	if len(pointers) == 0 {
		return nil
	}

	paths := make([]string, 0, len(pointers))
	var targets []string
	for path, names := range pointers {
		paths = append(paths, path)
		targets = append(targets, names...)
	}
	sort.Strings(paths)
	sort.Strings(targets)

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "no secret provider to resolve " + strings.Join(targets, ", "),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmResolveTimeout)
	defer cancel()

	values, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("fetching %d parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, path := range paths {
		value, ok := values[path]
		if !ok {
			missing = append(missing, pointers[path]...)
			continue
		}
		for _, target := range pointers[path] {
			if err := deps.setEnv(target, value); err != nil {
				return &ConfigError{Type: ErrSSMResolution, Message: "setting " + target, Err: err}
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "parameters not found for " + strings.Join(missing, ", "),
		}
	}
	return nil
}
