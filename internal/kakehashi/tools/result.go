package tools

import "fmt"

// ContentText is the only content type produced by the built-in handlers.
const ContentText = "text"

// Content is a single block of tool output.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the uniform envelope every successful dispatch returns.
//
// IsError is set when a self-reporting tool folded a failure into its
// content. Such results are still delivered with HTTP 200, so callers that
// care about failures of those tools must look at this flag rather than the
// status code.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text returns a result holding one text block.
func Text(s string) *Result {
	return &Result{Content: []Content{{Type: ContentText, Text: s}}}
}

// Textf is Text with fmt.Sprintf formatting.
func Textf(format string, args ...any) *Result {
	return Text(fmt.Sprintf(format, args...))
}

// Failure returns a self-reported failure: a readable text block prefixed
// with what the tool was doing, flagged with IsError.
func Failure(doing string, err error) *Result {
	r := Textf("Error %s: %v", doing, err)
	r.IsError = true
	return r
}

// String concatenates the text of all blocks, separated by newlines.
func (r *Result) String() string {
	if r == nil {
		return ""
	}
	var s string
	for i, c := range r.Content {
		if i > 0 {
			s += "\n"
		}
		s += c.Text
	}
	return s
}
