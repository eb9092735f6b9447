// Package config loads and validates the device ledger configuration.
//
// Configuration comes from a YAML file layered over built-in defaults, and
// DEVLEDGER_* environment variables override the file. Secrets such as the
// JWT signing key and broker passwords should be supplied through the
// environment and the file kept at mode 0600.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.API.Port)
package config
