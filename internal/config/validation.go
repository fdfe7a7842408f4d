package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their YAML key.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError represents a field-level validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors holds multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface for ValidationErrors
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		messages[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

func (v *ValidationErrors) add(field, message string) {
	v.Errors = append(v.Errors, ValidationError{Field: field, Message: message})
}

// Validate ensures all required configuration values are set
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		for _, e := range fieldErrs {
			errs.add(fieldPath(e.Namespace()), formatValidationMessage(e))
		}
	}

	for i := range c.Hosts {
		h := &c.Hosts[i]
		prefix := fmt.Sprintf("hosts[%d].protocols", i)
		if h.Protocols.SNMP != nil {
			if err := h.Protocols.SNMP.Validate(); err != nil {
				errs.add(prefix+".snmp", err.Error())
			}
		}
		if h.Protocols.SSH != nil {
			if err := h.Protocols.SSH.Validate(); err != nil {
				errs.add(prefix+".ssh", err.Error())
			}
		}
	}
	if err := c.MQTT.Validate(); err != nil {
		errs.add("mqtt", err.Error())
	}
	if err := c.Database.Validate(); err != nil {
		errs.add("database", err.Error())
	}
	if !c.Logging.IsLogLevelValid() {
		errs.add("logging.level", fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}

	if len(errs.Errors) > 0 {
		return errs
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// formatValidationMessage creates human-readable error messages
func formatValidationMessage(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s entries", field, e.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}
