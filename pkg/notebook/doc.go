// Package notebook holds the observable notebook state container.
//
// The Container is the single owner of cell state. Readers take deep copies
// through State; writers go through the mutation methods, and every
// committed mutation is announced to subscribers as a Change, in commit order.
//
// Results of a running execution are written only through Update, guarded by
// the generation token returned from BeginRun. Clearing or restarting a cell
// invalidates the token, so late events of a detached execution are dropped.
package notebook
