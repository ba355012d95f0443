package domain

// transitions lists every status change the pipeline may perform.
// Processing -> Processing is a progress update. Uploaded -> Failed and
// Processing -> Failed cover both execution failures and cancellation.
// Failed -> Processing is only reachable through an explicit retry, which
// the store guards with the retry bound.
var transitions = map[TokenStatus]map[TokenStatus]bool{
	TokenStatusUploaded: {
		TokenStatusProcessing: true,
		TokenStatusFailed:     true,
	},
	TokenStatusProcessing: {
		TokenStatusProcessing: true,
		TokenStatusCompleted:  true,
		TokenStatusFailed:     true,
	},
	TokenStatusFailed: {
		TokenStatusProcessing: true,
	},
	TokenStatusCompleted: {},
}

// CanTransition reports whether a token may move from one status to another.
func CanTransition(from, to TokenStatus) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// CanCancel reports whether a token in status s can be cancelled.
func CanCancel(s TokenStatus) bool {
	return !s.IsTerminal() && CanTransition(s, TokenStatusFailed)
}

// CanRetry reports whether a token can be retried given the configured bound.
func CanRetry(s TokenStatus, retryCount, maxRetries int) bool {
	return s == TokenStatusFailed && retryCount < maxRetries
}
