// Package config handles loading and validating kvstore configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (KVSTORE_SECTION_KEY)
//   - Validation of required fields
//   - Default value handling
//
// A missing configuration file is not an error: defaults and environment
// overrides are used instead.
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Database.Dir)
package config
