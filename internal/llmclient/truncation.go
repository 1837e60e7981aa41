package llmclient

import "errors"

// ErrTruncatedOutput reports that generation stopped because the output token
// budget was exhausted. [Client.Analyse] returns it only for a truncation
// finish reason, which responses from llm.Provider.Complete do not carry, so
// Analyse does not return it. Stages must never
// silently accept a truncated structured response — the caller is expected
// to retry with a larger MaxTokens or split the input.
var ErrTruncatedOutput = errors.New("llmclient: response truncated by max token limit")

// truncationFinishReasons lists the FinishReason values across providers
// that indicate the model stopped for lack of output budget rather than
// reaching a natural or tool-call end.
var truncationFinishReasons = map[string]bool{
	"length":     true,
	"max_tokens": true,
	"MAX_TOKENS": true,
}

// isTruncated reports whether finishReason indicates output truncation.
func isTruncated(finishReason string) bool {
	return truncationFinishReasons[finishReason]
}
