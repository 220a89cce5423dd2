// Package logger wraps zap for the releaser binary:
//   - a global sugared logger writing console lines to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing for the --log-level flag,
//   - leveled helpers (Infof, WarnKV, ...).
//
// Services receive a context and log through it, so host and version fields
// attached by the deployer appear on every line written for that host.
package logger
