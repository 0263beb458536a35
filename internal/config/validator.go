package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "telegram.chat_id")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidBackends returns the list of valid results backends
func ValidBackends() []string {
	return []string{BackendFile, BackendRedis}
}

// validate reports field errors by their config key rather than the Go
// field name.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateTags()...)

	// Cross-field checks the tags cannot express
	errors = append(errors, c.validateResults()...)
	errors = append(errors, c.validateTelegram()...)

	return errors
}

// validateTags runs the struct tag rules
func (c *Config) validateTags() []ValidationError {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Field: "config", Value: nil, Message: err.Error()}}
	}

	errors := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errors = append(errors, ValidationError{
			Field:   configKey(fe.Namespace()),
			Value:   fe.Value(),
			Message: tagMessage(fe),
		})
	}
	return errors
}

// configKey turns "Config.telegram.chat_id" into "telegram.chat_id".
func configKey(namespace string) string {
	_, key, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return key
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "numeric":
		return "must be a numeric chat ID"
	case "url":
		return "must be an absolute URL"
	case "hostname_port":
		return "must be host:port"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		if fe.Param() == "0" {
			return "must be non-negative"
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("exceeds maximum of %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// validateResults validates backend-specific settings
func (c *Config) validateResults() []ValidationError {
	var errors []ValidationError

	if c.Results.Backend != BackendRedis {
		return nil
	}

	if c.Results.RedisURL == "" {
		errors = append(errors, ValidationError{
			Field:   "results.redis_url",
			Value:   c.Results.RedisURL,
			Message: "is required when results.backend is redis",
		})
	} else if _, err := redis.ParseURL(c.Results.RedisURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "results.redis_url",
			Value:   c.Results.RedisURL,
			Message: fmt.Sprintf("is not a valid redis URL: %v", err),
		})
	}

	if c.Results.KeyPrefix == "" {
		errors = append(errors, ValidationError{
			Field:   "results.key_prefix",
			Value:   c.Results.KeyPrefix,
			Message: "is required when results.backend is redis",
		})
	}

	return errors
}

// validateTelegram validates the Bot API endpoint template
func (c *Config) validateTelegram() []ValidationError {
	endpoint := c.Telegram.APIEndpoint
	if endpoint == "" {
		return nil
	}
	if strings.Count(endpoint, "%s") != 2 {
		return []ValidationError{{
			Field:   "telegram.api_endpoint",
			Value:   endpoint,
			Message: "must contain two %s placeholders (token, method)",
		}}
	}
	return nil
}

// RequireRun checks the settings only the run command needs.
func (c *Config) RequireRun() error {
	var errors ValidationErrors
	if c.Telegram.BotToken == "" {
		errors = append(errors, ValidationError{
			Field:   "telegram.bot_token",
			Value:   "",
			Message: "is required (set AUTOREF_TELEGRAM_BOT_TOKEN)",
		})
	}
	if c.Telegram.ChatID == "" {
		errors = append(errors, ValidationError{
			Field:   "telegram.chat_id",
			Value:   "",
			Message: "is required (set AUTOREF_TELEGRAM_CHAT_ID)",
		})
	}
	if err := c.RequireService(); err != nil {
		errors = append(errors, err.(ValidationErrors)...)
	}
	if len(errors) == 0 {
		return nil
	}
	return errors
}

// RequireService checks that the registration service is configured.
func (c *Config) RequireService() error {
	if c.Service.BaseURL == "" {
		return ValidationErrors{{
			Field:   "service.base_url",
			Value:   "",
			Message: "is required (set AUTOREF_SERVICE_BASE_URL)",
		}}
	}
	return nil
}
