// Package main is the biodumpy executable.
//
// Two modes share one configuration file:
//   - download: runs the selected modules over a list of elements and writes
//     one file per element and module (or one bulk file per module) through the
//     configured blob store.
//   - serve: exposes the same pipeline as an HTTP job API. Jobs go through a
//     bounded in-memory queue to a fixed worker pool; each job writes under
//     jobs/<id>/ and its status and dumps can be polled.
//
// Configuration comes from Viper (file plus BIODUMPY_* environment variables),
// logging from zap and metrics from Prometheus at /metrics in serve mode.
// Dump records go to Postgres and Pub/Sub when those are configured.
package main

import "github.com/JakeFAU/biodumpy/cmd"

func main() {
	cmd.Execute()
}
