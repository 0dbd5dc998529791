package agent

import "github.com/MrWong99/campusagent/pkg/provider/llm"

// Accountant accumulates token usage over the LLM calls of one run. It is
// written only by the goroutine driving the run.
type Accountant struct {
	s Summary
}

// Record accounts for one LLM call. A nil usage (the provider omitted it)
// still counts the call but adds no tokens. Each field is summed as reported,
// so a zero TotalTokens is not derived from the other two.
func (a *Accountant) Record(u *llm.Usage) {
	a.s.Calls++
	if u == nil {
		return
	}
	a.s.ReportedCalls++
	a.s.PromptTokens += u.PromptTokens
	a.s.CompletionTokens += u.CompletionTokens
	a.s.TotalTokens += u.TotalTokens
}

// Summary returns the totals so far.
func (a *Accountant) Summary() Summary { return a.s }

// Summary is the usage of a finished run.
type Summary struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	// Calls is the number of LLM calls issued.
	Calls int

	// ReportedCalls is the number of those calls that carried usage.
	ReportedCalls int
}

// AverageTokensPerCall returns TotalTokens divided by ReportedCalls, or
// false when no call reported usage.
func (s Summary) AverageTokensPerCall() (float64, bool) {
	if s.ReportedCalls == 0 {
		return 0, false
	}
	return float64(s.TotalTokens) / float64(s.ReportedCalls), true
}
