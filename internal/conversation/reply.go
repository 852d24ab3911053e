package conversation

// Reply is the outcome of one backend call: either response text or a failure.
type Reply struct {
	text string
	err  error
}

// Succeeded wraps response text.
func Succeeded(text string) Reply {
	return Reply{text: text}
}

// Failed wraps a backend error.
func Failed(err error) Reply {
	return Reply{err: err}
}

// OK reports whether the backend produced a response.
func (r Reply) OK() bool {
	return r.err == nil
}

// Err returns the failure, if any.
func (r Reply) Err() error {
	return r.err
}

// Text is what gets recorded in the turn and the transcript. Failures render
// as an in-band error line so partners see that the call failed.
func (r Reply) Text() string {
	if r.err != nil {
		return "ERROR: API call failed - " + r.err.Error()
	}
	return r.text
}
