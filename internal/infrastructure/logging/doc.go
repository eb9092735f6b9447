// Package logging provides structured logging for the device ledger.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version attributes.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log JWT secrets or bearer tokens. Principals are identities, not
// credentials, and may be logged.
package logging
