// Package partition binds the event codec to a segment store and adds the
// blocking-read primitive fetch long-polls are built on: appends close and
// replace a notification channel, so any number of waiters wake on new data
// without polling.
package partition
