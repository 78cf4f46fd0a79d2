package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ValidateConfig validates the entire configuration and returns all validation errors
func (c *Config) ValidateConfig() error {
	var validationErrors ValidationErrors

	sections := []struct {
		name  string
		value interface{}
		nilOK bool
	}{
		{"general", c.General, false},
		{"tunnel", c.Tunnel, false},
		{"upstream", c.Upstream, false},
		{"capture", c.Capture, true},
		{"api", c.API, true},
		{"filter", c.Filter, true},
	}

	for _, s := range sections {
		if reflectNil(s.value) {
			if !s.nilOK {
				validationErrors = append(validationErrors, ValidationError{
					FieldPath: s.name,
					Message:   fmt.Sprintf("configuration must contain '%s' section", s.name),
				})
			}
			continue
		}
		if err := validate.Struct(s.value); err != nil {
			validationErrors = append(validationErrors, convertValidatorErrors(err, s.name, "")...)
		}
	}

	if c.Tunnel != nil && c.Tunnel.Address != "" {
		if ip, ipnet, err := c.Tunnel.Prefix(); err == nil && ip.To4() != nil {
			if ones, _ := ipnet.Mask.Size(); ones > 30 {
				validationErrors = append(validationErrors, ValidationError{
					FieldPath: "tunnel.address",
					Message:   "prefix must leave room for a peer address (/30 or wider)",
				})
			}
		}
	}

	if c.Capture != nil && c.Capture.Enable {
		for i, rule := range c.Capture.IPTablesRules {
			if rule == nil {
				continue
			}
			if rule.Table != "nat" {
				validationErrors = append(validationErrors, ValidationError{
					ItemName:  fmt.Sprintf("iptables_rule[%d]", i),
					FieldPath: "capture.iptables_rule.table",
					Message:   "capture rules must use the nat table",
				})
			}
		}
	}

	if len(validationErrors) > 0 {
		return validationErrors
	}

	return nil
}

func reflectNil(v interface{}) bool {
	switch s := v.(type) {
	case *GeneralConfig:
		return s == nil
	case *TunnelConfig:
		return s == nil
	case *UpstreamConfig:
		return s == nil
	case *CaptureConfig:
		return s == nil
	case *APIConfig:
		return s == nil
	case *FilterConfig:
		return s == nil
	}
	return v == nil
}

// convertValidatorErrors converts go-playground/validator errors to our ValidationError format
func convertValidatorErrors(err error, fieldPrefix string, itemName string) ValidationErrors {
	var validationErrors ValidationErrors

	var validatorErrs validator.ValidationErrors
	if errors.As(err, &validatorErrs) {
		for _, e := range validatorErrs {
			fieldPath := fieldPrefix
			if e.Field() != "" {
				// e.Field() returns the TOML tag name because we registered TagNameFunc
				fieldName := e.Field()

				if fieldPrefix != "" {
					fieldPath = fieldPrefix + "." + fieldName
				} else {
					fieldPath = fieldName
				}
			}

			validationErrors = append(validationErrors, ValidationError{
				ItemName:  itemName,
				FieldPath: fieldPath,
				Message:   getValidationMessage(e),
			})
		}
	}

	return validationErrors
}
