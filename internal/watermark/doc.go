// Package watermark tracks, per repository, the last revision already
// surfaced to the user.
//
// A watermark never decreases. Writes go through to the backing
// storage.Store before they become visible to Get, so the in-memory view
// never runs ahead of disk.
package watermark
