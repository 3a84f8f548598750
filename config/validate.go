// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// fieldErrors maps a Config field to the error reported when its tag fails.
var fieldErrors = map[string]error{
	"DataDir":      ErrEmptyDataDir,
	"Network":      ErrInvalidNetwork,
	"MetricsAddr":  ErrInvalidListenAddr,
	"LogLevel":     ErrInvalidLogLevel,
	"MaxForkDepth": ErrInvalidForkDepth,
	"RPCURL":       ErrInvalidRPCURL,
	"RPCRate":      ErrInvalidRPCRate,
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		return validLogLevels[strings.ToLower(fl.Field().String())]
	})
	_ = v.RegisterValidation("hostport", func(fl validator.FieldLevel) bool {
		return validateAddr(fl.Field().String()) == nil
	})
	return v
}

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
func ValidateConfig(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var fields validator.ValidationErrors
		if !errors.As(err, &fields) || len(fields) == 0 {
			return fmt.Errorf("config: %w", err)
		}
		fe := fields[0]
		sentinel, ok := fieldErrors[fe.StructField()]
		if !ok {
			return fmt.Errorf("config: %w", fe)
		}
		return fmt.Errorf("%w: %s = %v", sentinel, strings.ToLower(fe.StructField()), fe.Value())
	}

	params, err := cfg.Params()
	if err != nil {
		return err
	}
	if cfg.PruneDepth != 0 && cfg.PruneDepth < params.RetargetInterval {
		return fmt.Errorf("%w: %d < %d", ErrInvalidPruneDepth, cfg.PruneDepth, params.RetargetInterval)
	}
	return nil
}

// validateAddr checks that addr is a valid host:port address.
func validateAddr(addr string) error {
	_, _, err := net.SplitHostPort(addr)
	return err
}
