// Package logger provides structured logging for realtime components
// using zerolog.
//
// It supports JSON and console output, level configuration and
// component-scoped loggers with structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.Get("provider")
//	log.Info("connection started", logger.Fields("url", url))
package logger
