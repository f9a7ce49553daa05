// Boreal - Real-Time Astronomical Alert Broker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/boreal

package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is shared: validator caches struct metadata internally.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for structural and semantic errors.
// It is called by Load after unmarshaling; direct construction in tests
// should call it explicitly.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %w", verrs)
		}
		return fmt.Errorf("configuration validation: %w", err)
	}

	// Cross-field checks the tag language can't express.
	if c.Query.ExpirationInterval <= c.Query.MaxTime {
		return fmt.Errorf("query.expiration_interval (%v) must exceed query.max_time (%v)",
			c.Query.ExpirationInterval, c.Query.MaxTime)
	}
	if c.NATS.EmbeddedServer && c.NATS.StoreDir == "" {
		return errors.New("nats.store_dir is required when nats.embedded_server is enabled")
	}
	for name, cat := range c.Crossmatch.Catalogs {
		if len(cat.Projection) == 0 {
			return fmt.Errorf("crossmatch catalog %q declares no projection fields", name)
		}
	}

	return nil
}
