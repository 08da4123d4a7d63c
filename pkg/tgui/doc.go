// Package tgui provides small helpers for Telegram HTML messages:
//   - escaping wrappers (B, I, Quote, Link) returning safe HTML
//   - a line-oriented message builder for command replies
//   - rune-aware truncation
package tgui
