// Package app wires the workflow configuration, instrument definitions and
// the reduction pipeline into a runnable application.
package app
