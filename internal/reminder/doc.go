// Package reminder turns persisted reminders into live timers and delivers
// them once.
//
// A reminder is PENDING while its row exists and its timer is armed, FIRING
// while a dispatch is in flight, and gone once delivered or cancelled. Both
// terminal paths delete the row; there is no failed state and no retry.
//
// The Engine owns the timer Registry. Timer callbacks never touch the
// registry: they post a firing to the engine's single event loop, which drops
// stale firings by generation and hands live ones to the task engine so a
// slow send never stalls arming, disarming or other expiries.
//
// Recovery runs once at startup. Rows whose due time already passed are left
// in the store unarmed; see Service.Recover.
package reminder
