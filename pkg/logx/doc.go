// Package logx configures remindbot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - console output is human readable (short timestamp, file:line caller)
//   - file output is JSON lines
//   - an optional ops chat sink forwards warnings to a Telegram chat (rate limited)
package logx
