// Package logx configures nudged's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// Runtime reconfiguration goes through Service.Apply; loggers created from
// the Service stay live across swaps.
package logx
