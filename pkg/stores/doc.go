// Package stores provides the local persistence of catletctl.
// It keeps the catlet id of every machine declared in catlets.yaml, one row
// per command run, and a journal of the remote operations each run tracked,
// all in a single SQLite database in WAL mode.
package stores
