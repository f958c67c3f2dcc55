// Package notifier is the outbound path for bot-initiated messages: fired
// reminders and operator notices.
//
// Unlike command replies, these messages are not a response to a user, so
// they go through one shared token bucket (golang.org/x/time/rate) that keeps
// the bot under Telegram's global send limit. Sends are synchronous: the
// caller learns whether delivery succeeded and decides what to do about it.
// The notifier itself never retries.
//
// A short in-memory history of recent sends backs /health.
package notifier
