// Package config handles loading and validating relay hub configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (RELAYHUB_*, plus PORT)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml", true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
