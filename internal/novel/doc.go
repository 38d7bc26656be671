// Package novel defines the core types shared across subsystems: the crawl
// state record, chapter index entries, the error log, the component
// interfaces (extractor, translator, stores), and the clean-text
// normalization applied wherever prose crosses a boundary.
package novel
