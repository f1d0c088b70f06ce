package llm

import "context"

// MockGenerator is a scripted generator for tests. Each Generate call returns
// the next reply (or error) in order; the last entry repeats once exhausted.
type MockGenerator struct {
	Replies []string
	Errs    []error
	Prompts []string
	calls   int
}

// Generate records the prompt and returns the scripted reply or error.
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	i := m.calls
	m.calls++
	if n := len(m.Errs); n > 0 {
		k := i
		if k >= n {
			k = n - 1
		}
		if m.Errs[k] != nil {
			return "", m.Errs[k]
		}
	}
	if n := len(m.Replies); n > 0 {
		k := i
		if k >= n {
			k = n - 1
		}
		return m.Replies[k], nil
	}
	return "", nil
}
