// Package scheduler registers recurring jobs (cron expressions or fixed
// intervals) and enqueues each trigger into the task engine. It never runs
// jobs itself.
package scheduler
