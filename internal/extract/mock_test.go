package extract

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/munivars/internal/llm"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	args := m.Called(ctx, prompt, opts)
	return args.String(0), args.Error(1)
}

func (m *mockLLM) GenerateJSON(ctx context.Context, prompt string, out any, opts llm.Options) error {
	args := m.Called(ctx, prompt, out, opts)
	return args.Error(0)
}

func (m *mockLLM) Provider() string { return "mock" }

// replyJSON decodes raw into the out argument of GenerateJSON.
func replyJSON(raw string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		if err := json.Unmarshal([]byte(raw), args.Get(2)); err != nil {
			panic(err)
		}
	}
}

func purpose(p string) any {
	return mock.MatchedBy(func(o llm.Options) bool { return o.Purpose == p })
}
