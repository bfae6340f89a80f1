// Package discovery runs one poll cycle for a repository: read the
// watermark, list newer commits, pick which ones to show, hand the rendered
// notifications to the notifier and advance the watermark.
//
// A cycle never touches other repositories. Every failure comes back as a
// typed error (ErrFetch, watermark.ErrPersist) together with a CycleReport,
// so the scheduler can log it and carry on.
package discovery
