package logger

import "github.com/harrison/gatekeeper/internal/models"

// Sink is the event surface every logger in this package implements.
type Sink interface {
	LogBatchStart(state *models.WorkflowState)
	LogPassStart(pass *models.ProcessingPass, queued int)
	LogPassComplete(pass *models.ProcessingPass)
	LogOperation(env *models.Envelope, outcome string)
	LogEscalation(env *models.Envelope, reason string)
	LogBatchComplete(state *models.WorkflowState)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
}

// MultiLogger fans every event out to each sink in order. Nil sinks are skipped.
type MultiLogger []Sink

// NewMultiLogger combines sinks.
func NewMultiLogger(sinks ...Sink) MultiLogger {
	out := make(MultiLogger, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m MultiLogger) LogBatchStart(state *models.WorkflowState) {
	for _, s := range m {
		s.LogBatchStart(state)
	}
}

func (m MultiLogger) LogPassStart(pass *models.ProcessingPass, queued int) {
	for _, s := range m {
		s.LogPassStart(pass, queued)
	}
}

func (m MultiLogger) LogPassComplete(pass *models.ProcessingPass) {
	for _, s := range m {
		s.LogPassComplete(pass)
	}
}

func (m MultiLogger) LogOperation(env *models.Envelope, outcome string) {
	for _, s := range m {
		s.LogOperation(env, outcome)
	}
}

func (m MultiLogger) LogEscalation(env *models.Envelope, reason string) {
	for _, s := range m {
		s.LogEscalation(env, reason)
	}
}

func (m MultiLogger) LogBatchComplete(state *models.WorkflowState) {
	for _, s := range m {
		s.LogBatchComplete(state)
	}
}

func (m MultiLogger) LogDebug(message string) {
	for _, s := range m {
		s.LogDebug(message)
	}
}

func (m MultiLogger) LogInfo(message string) {
	for _, s := range m {
		s.LogInfo(message)
	}
}

func (m MultiLogger) LogWarn(message string) {
	for _, s := range m {
		s.LogWarn(message)
	}
}

func (m MultiLogger) LogError(message string) {
	for _, s := range m {
		s.LogError(message)
	}
}
