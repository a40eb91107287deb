// Package logger provides structured logging for proxykit using zerolog.
//
// It supports JSON and console output, level configuration, and
// component-scoped loggers with map-based structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.WithComponent("target.pool")
//	log.Debug("instance leased", logger.Fields(logger.FieldIdentity, "db", "active", 3))
package logger
