// Package logx is the bot's structured logging layer.
//
// A small value type (Logger) wraps zerolog so call sites stay terse:
//   - console output is human readable (short timestamp, file:line caller)
//   - file output is JSON lines
//   - an optional Telegram sink forwards warnings to an ops chat, rate limited
package logx
