// Package config loads and validates reverie-core configuration.
//
// Values are resolved in three layers: built-in defaults, the YAML file,
// then REVERIE_* environment variables. Validate reports every problem
// at once rather than stopping at the first.
//
// Secrets (Redis and MQTT passwords, the JWT secret, the InfluxDB token)
// belong in the environment, not in the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Experiments.StorageRoot)
package config
