// Package config loads proxykit configuration.
//
// It uses Viper to read an optional YAML file, godotenv to load an optional
// .env file, and PROXYKIT_-prefixed environment variables that override file
// values (PROXYKIT_POOL_MAX_SIZE=16 sets pool.max_size).
//
// # Usage
//
//	cfg, err := config.Load(config.WithConfigFile("proxykit.yml"))
//
// Load applies defaults and validates before returning.
package config
