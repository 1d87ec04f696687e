// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Coloured console output for humans
//
// Components take a named child logger so every line carries its origin:
//
//	logger, err := logging.New(logging.DefaultConfig())
//	brokerLog := logger.Component("broker")
//	brokerLog.Info("command forwarded", logging.SessionID(sid), logging.Action("openTab"))
package logging
