package executor

import "github.com/harrison/gatekeeper/internal/models"

// Logger receives batch progress events. A nil Logger is allowed wherever
// one is accepted.
type Logger interface {
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

// Operation outcomes reported through Logger.LogOperation.
const (
	OutcomeHeld      = "held"
	OutcomeExecuted  = "executed"
	OutcomeVerified  = "verified"
	OutcomeFailed    = "failed"
	OutcomeUnchecked = "verification_failed"
)
