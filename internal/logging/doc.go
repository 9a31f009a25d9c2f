// Package logging provides JSON logging with file rotation for the indexer.
// The CLI always writes logs to ~/.tearags/logs/indexer.log and mirrors them
// to stderr. The level comes from the configuration; the --debug flag sets
// it to debug and does not change where logs go.
package logging
