// Package logger records job lifecycle events so a session can be audited and
// summarized after the fact.
package logger
