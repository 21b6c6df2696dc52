// Package logger wraps zap with a shared console logger and context helpers.
//
// Every stage of an update run receives a context and pulls its logger from
// it, so the run name and run_id fields follow the messages of all packages.
package logger
