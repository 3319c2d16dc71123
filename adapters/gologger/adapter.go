package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	ServiceLoggerName = "fulfillment"
	JobsLoggerName    = "fulfillment.jobs"
)

// Loggers holds the resolved service logger and its go-job bridge for the
// notification queue.
type Loggers struct {
	Provider glog.LoggerProvider
	Service  glog.Logger
	Jobs     job.Logger
}

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(provider glog.LoggerProvider, logger glog.Logger) Loggers {
	resolvedProvider, resolvedLogger := glog.Resolve(ServiceLoggerName, provider, logger)
	out := Loggers{Provider: resolvedProvider, Service: resolvedLogger}
	if resolvedProvider != nil {
		out.Jobs = job.GoLoggerProvider(resolvedProvider).GetLogger(JobsLoggerName)
	}
	if out.Jobs == nil && resolvedLogger != nil {
		out.Jobs = job.GoLogger(resolvedLogger)
	}
	return out
}
