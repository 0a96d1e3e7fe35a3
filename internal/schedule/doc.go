// Package schedule registers daily wall-clock triggers on top of robfig/cron.
//
// The service is trigger-only: a trigger fire calls its callback, which is
// expected to hand the actual work to an event loop and return quickly.
package schedule
