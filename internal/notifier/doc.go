// Package notifier delivers rendered board notifications to chats.
//
// Sends are synchronous from the caller's point of view so the dispatcher
// knows whether a message went out. The service adds what every send needs:
// a shared token bucket matching Telegram's per-bot limits, bounded retry with
// jittered backoff, optional duplicate suppression, bus events and a short
// in-memory history for /status.
package notifier
