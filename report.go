package dsconv

// Diagnostics for the conversion pipeline. Recoverable data loss is recorded here instead of
// being printed, so that callers can audit what was skipped.

import (
	"context"
	"fmt"
	"log/slog"
)

// Pipeline stages, as recorded in Warning.Stage.
const (
	StageLoad      = "load"
	StageNormalize = "normalize"
	StageConvert   = "convert"
	StageSave      = "save"
)

// Warning describes a single skip-with-warning event.
type Warning struct {
	Stage   string // One of the Stage constants.
	Format  Format // The adapter that recorded the warning.
	Split   Split  // Empty when the warning is not split specific.
	Subject string // The affected entry, file or annotation, if any.
	Message string
}

func (w Warning) String() string {
	s := fmt.Sprintf("%s/%s", w.Format, w.Stage)
	if w.Split != "" {
		s += " [" + string(w.Split) + "]"
	}
	if w.Subject != "" {
		s += " " + w.Subject + ":"
	}
	return s + " " + w.Message
}

// Report collects the warnings of one or more pipeline calls. A nil *Report discards everything.
//
// Report is not safe for concurrent use.
type Report struct {
	logger   *slog.Logger
	warnings []Warning
}

// NewReport returns an empty report. When logger is not nil, every warning is also logged at
// WARN level and progress messages at DEBUG level.
func NewReport(logger *slog.Logger) *Report {
	return &Report{logger: logger}
}

// Warn records w.
func (r *Report) Warn(w Warning) {
	if r == nil {
		return
	}
	r.warnings = append(r.warnings, w)
	if r.logger != nil {
		r.logger.LogAttrs(context.Background(), slog.LevelWarn, w.Message,
			slog.String("stage", w.Stage),
			slog.String("format", string(w.Format)),
			slog.String("split", string(w.Split)),
			slog.String("subject", w.Subject))
	}
}

// Warnings returns the recorded warnings in order.
func (r *Report) Warnings() []Warning {
	if r == nil {
		return nil
	}
	return r.warnings
}

// Len is the number of recorded warnings.
func (r *Report) Len() int {
	if r == nil {
		return 0
	}
	return len(r.warnings)
}

// debug logs a progress message if the report has a logger.
func (r *Report) debug(msg string, args ...any) {
	if r == nil || r.logger == nil {
		return
	}
	r.logger.Debug(msg, args...)
}

// stageReporter binds a report to a format and stage so that adapters can record warnings tersely.
type stageReporter struct {
	r      *Report
	format Format
	stage  string
}

func (r *Report) stage(format Format, stage string) stageReporter {
	return stageReporter{r: r, format: format, stage: stage}
}

func (s stageReporter) warnf(split Split, subject, format string, args ...any) {
	s.r.Warn(Warning{
		Stage:   s.stage,
		Format:  s.format,
		Split:   split,
		Subject: subject,
		Message: fmt.Sprintf(format, args...),
	})
}

func (s stageReporter) debug(msg string, args ...any) {
	s.r.debug(msg, append([]any{"format", string(s.format), "stage", s.stage}, args...)...)
}
