package interp

import (
	"fmt"
	"net"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	registerCustomValidators()
}

// ExecutionConfig is the ambient configuration surface for an
// interpreter run: payload size caps, the command safelist toggle, the
// keychain access policy, the pipeline iteration cap, and the guard
// prompt timeout.
type ExecutionConfig struct {
	MaxCommandPayloadBytes int           `json:"maxCommandPayloadBytes" yaml:"maxCommandPayloadBytes" default:"1048576" validate:"gt=0"`
	MaxEnvPayloadBytes     int           `json:"maxEnvPayloadBytes" yaml:"maxEnvPayloadBytes" default:"262144" validate:"gt=0"`
	AllowShellMetacharacters bool        `json:"allowShellMetacharacters" yaml:"allowShellMetacharacters" default:"false"`
	KeychainRequireApproval  bool        `json:"keychainRequireApproval" yaml:"keychainRequireApproval" default:"true"`
	PipelineIterationCap     int         `json:"pipelineIterationCap" yaml:"pipelineIterationCap" default:"100" validate:"gt=0,lte=100"`
	GuardPromptTimeout       time.Duration `json:"guardPromptTimeout" yaml:"guardPromptTimeout" default:"30s"`
	ProviderEndpoint         string      `json:"providerEndpoint" yaml:"providerEndpoint" validate:"omitempty,url_format"`
	ApproverEndpoint         string      `json:"approverEndpoint" yaml:"approverEndpoint" validate:"omitempty,hostname_port|url_format"`
}

// InitializeConfig is the single entry point for config preparation: it
// combines defaults -> value merging -> validation, mirroring
// runtime/config.go's InitializeConfig pipeline.
func InitializeConfig(config any, rawValues map[string]any) error {
	if err := ApplyDefaults(config); err != nil {
		return fmt.Errorf("failed to apply defaults: %w", err)
	}

	if len(rawValues) > 0 {
		if err := mapToStructFromYAML(rawValues, config); err != nil {
			return fmt.Errorf("failed to apply config values: %w", err)
		}
	}

	configValue := reflect.ValueOf(config)
	if configValue.Kind() == reflect.Ptr {
		configValue = configValue.Elem()
	}

	if err := validateConfig(configValue.Interface()); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// prepareConfig applies defaults then validates, without merging raw
// override values — used when a config struct is built programmatically
// (e.g. a transformer's own Config literal) rather than loaded from YAML.
func prepareConfig(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := ApplyDefaults(config); err != nil {
		return fmt.Errorf("failed to prepare config (defaults): %w", err)
	}
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("failed to prepare config (validation): %w", err)
	}
	return nil
}

func registerCustomValidators() {
	validate.RegisterValidation("hostname_port", func(fl validator.FieldLevel) bool {
		addr := fl.Field().String()
		host, port, err := net.SplitHostPort(addr)
		if err != nil || host == "" || port == "" {
			return false
		}
		_, err = net.LookupPort("tcp", port)
		return err == nil
	})

	validate.RegisterValidation("url_format", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		u, err := url.Parse(s)
		return err == nil && u.Scheme != "" && u.Host != ""
	})
}

func ApplyDefaults(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := defaults.Set(config); err != nil {
		return fmt.Errorf("failed to apply default values: %w", err)
	}
	return nil
}

func validateConfig(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validate.Struct(config); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var msgs []string
			for _, fe := range validationErrors {
				msgs = append(msgs, fmt.Sprintf("field '%s' failed validation: %s (rule: %s)", fe.Field(), fe.Error(), fe.Tag()))
			}
			return fmt.Errorf("config validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// RegisterCustomValidator exposes validator registration to transformer
// packages that need provider-specific config rules.
func RegisterCustomValidator(tag string, fn validator.Func) error {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		return fmt.Errorf("failed to register custom validator '%s': %w", tag, err)
	}
	return nil
}
