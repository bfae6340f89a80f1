// Package scheduler drives discovery cycles on a cron schedule.
//
// Every repository gets its own cron entry (robfig/cron) and one immediate
// run at start. Ticks are enqueued to a bounded worker pool. A per-repository
// run state drops a tick while the previous cycle for that repository is
// still queued or running, so a slow repository never piles up cycles and
// never delays the others.
//
// Supported schedule forms (see ParseSchedule):
//   - Cron: "*/5 * * * *", "@hourly", "@every 5m"
//   - Interval: "5m", "00:30" (HH:MM)
package scheduler
