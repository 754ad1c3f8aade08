package config

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rileyhilliard/forkterm/internal/errors"
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// validatorInstance returns the shared validator with forkterm's custom tags
// registered. validator.Validate caches struct metadata and is goroutine safe.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("envname", func(fl validator.FieldLevel) bool {
			return envNamePattern.MatchString(fl.Field().String())
		})
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			return yamlName(f.Tag.Get("yaml"), f.Name)
		})
	})
	return validate
}

// Validate checks the application config and returns a structured error
// naming every bad field.
func Validate(cfg *Config) error {
	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but forkterm only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade forkterm or lower the version field")
	}

	if err := validatorInstance().Struct(cfg); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config: "+describeValidation(err),
			"Fix the listed fields in config.yaml or the matching FORK_* environment variables")
	}
	return nil
}

// ValidateHost checks a single host entry after back-fill.
func ValidateHost(h HostConfig) error {
	if err := validatorInstance().Struct(h); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Host '%s' is invalid: %s", h.Name, describeValidation(err)),
			"Fix the entry in your hosts file")
	}
	return nil
}

// describeValidation turns validator errors into "field: problem" fragments.
func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fieldPath(fe.Namespace())+" "+describeTag(fe))
	}
	return strings.Join(parts, "; ")
}

// fieldPath drops the root struct name: "Config.ssh.connect_timeout" → "ssh.connect_timeout".
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + zeroOr(fe.Param())
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "startswith":
		return "must be an absolute path"
	case "url":
		return "must be a URL"
	case "envname":
		return fmt.Sprintf("has an invalid environment variable name %q", fe.Value())
	case "hostname_rfc1123|ip":
		return fmt.Sprintf("is not a valid hostname or IP (%v)", fe.Value())
	default:
		return "failed " + fe.Tag()
	}
}

// yamlName reports fields by their YAML key so messages match the file.
func yamlName(tag, fallback string) string {
	name, _, _ := strings.Cut(tag, ",")
	if name == "" || name == "-" {
		return fallback
	}
	return name
}

func zeroOr(p string) string {
	if p == "" {
		return "0"
	}
	return p
}
