package policy

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/jrodrigosm/llm-user-memory/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// Query is the Rego document consulted for every log entry. Policies set
// `skip` (bool) and optionally `reason` (string) in package memory:
//
//	package memory
//
//	skip if startswith(input.model, "local-")
//	reason := "local models are private" if skip
const Query = "data.memory"

// Verdict is the policy outcome for one entry
type Verdict struct {
	Skip   bool
	Reason string
}

// Input is what a policy sees of a log entry
type Input struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Policy decides which log entries may shape the profile. A nil *Policy
// admits everything.
type Policy struct {
	query *rego.PreparedEvalQuery
}

type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(ctx print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// Load reads every *.rego file in dir. It returns nil without error when dir
// is empty or holds no policy.
func Load(ctx context.Context, dir string) (*Policy, error) {
	if dir == "" {
		return nil, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files")
	}
	if len(files) == 0 {
		return nil, nil
	}

	options := make([]func(*rego.Rego), 0, len(files)+1)
	options = append(options, rego.Query(Query))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.Value("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare query", goerr.Value("query", Query))
	}

	return &Policy{query: &prepared}, nil
}

// Evaluate returns the verdict for entry
func (p *Policy) Evaluate(ctx context.Context, entry *model.LogEntry) (*Verdict, error) {
	if p == nil || p.query == nil {
		return &Verdict{}, nil
	}

	input := Input{
		ID:    string(entry.ID),
		Model: entry.Model,
		Text:  entry.UserText,
	}
	if !entry.Timestamp.IsZero() {
		input.Timestamp = entry.Timestamp.UTC().Format(time.RFC3339)
	}

	rs, err := p.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&regoPrintHook{ctx: ctx}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate memory policy", goerr.V("id", entry.ID))
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return &Verdict{}, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("invalid memory policy result", goerr.V("result", rs[0].Expressions[0].Value))
	}

	var v Verdict
	if skip, ok := data["skip"].(bool); ok {
		v.Skip = skip
	}
	if reason, ok := data["reason"].(string); ok {
		v.Reason = reason
	}
	return &v, nil
}
