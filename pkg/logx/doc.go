// Package logx configures chatrelay's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional chat sink posting warn+ lines to an ops channel
//     (min-level + rate limiting)
package logx
