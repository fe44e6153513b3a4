package ragerrors

import "encoding/json"

// FormatForUser renders err for a human reading CLI/log output: the
// message, an optional suggestion, and the kind in brackets.
func FormatForUser(err error) string {
	re, ok := err.(*RagError)
	if !ok {
		return "Error: " + err.Error()
	}
	s := "Error: " + re.Message
	if re.Suggestion != "" {
		s += "\n  " + re.Suggestion
	}
	s += " [" + string(re.Kind) + "]"
	return s
}

type jsonError struct {
	Kind       string            `json:"kind"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
}

// FormatJSON renders err as the machine-readable shape used by JSON log
// output, independent of the Tool Layer's own JSON-RPC error object.
func FormatJSON(err error) ([]byte, error) {
	re, ok := err.(*RagError)
	if !ok {
		re = Wrap(InferenceFailed, err)
	}
	je := jsonError{
		Kind:       string(re.Kind),
		Message:    re.Message,
		Details:    re.Details,
		Suggestion: re.Suggestion,
	}
	if re.Cause != nil {
		je.Cause = re.Cause.Error()
	}
	return json.Marshal(je)
}

// FormatForLog builds an slog-attribute-shaped map suitable for
// slog.Any("error", ragerrors.FormatForLog(err)).
func FormatForLog(err error) map[string]any {
	re, ok := err.(*RagError)
	if !ok {
		return map[string]any{"message": err.Error()}
	}
	m := map[string]any{
		"kind":    string(re.Kind),
		"message": re.Message,
	}
	if re.Cause != nil {
		m["cause"] = re.Cause.Error()
	}
	if re.Suggestion != "" {
		m["suggestion"] = re.Suggestion
	}
	for k, v := range re.Details {
		m["detail_"+k] = v
	}
	return m
}
