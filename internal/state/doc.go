// Package state persists the three per-book documents (crawl state, chapter
// index, error log) as whole JSON files rewritten atomically after every
// mutation. Loads fall back to safe defaults, distinguishing a missing
// document (first boot) from a corrupt one (logged loudly, original kept
// aside as a .corrupt file).
package state
