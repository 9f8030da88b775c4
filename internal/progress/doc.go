// Package progress reports download progress. Bar draws a terminal progress
// bar for the CLI; Hub batches runner events from serve-mode workers and fans
// them out to sinks, keeping a running Tally per job.
package progress
