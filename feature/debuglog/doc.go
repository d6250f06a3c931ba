// Package debuglog collects diagnostic snapshots posted by client machines
// and diffs them against each other. Snapshots live in memory only and are
// lost on restart.
package debuglog
