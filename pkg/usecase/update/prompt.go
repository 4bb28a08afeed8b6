package update

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

//go:embed prompt/update.md
var updatePromptRaw string

var updatePromptTmpl = template.Must(template.New("update").Parse(updatePromptRaw))

const defaultMaxProfileWords = 400

func buildPrompt(profile string, entry *model.LogEntry, maxWords int) (string, error) {
	var buf bytes.Buffer
	if err := updatePromptTmpl.Execute(&buf, map[string]any{
		"Profile":  strings.TrimSpace(profile),
		"Message":  strings.TrimSpace(entry.UserText),
		"NoUpdate": model.NoUpdateMarker,
		"MaxWords": maxWords,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute update prompt template")
	}
	return buf.String(), nil
}

// parseResponse interprets a completion response. The no-update marker is
// matched exactly after trimming; an empty response is malformed.
func parseResponse(resp string) (model.Decision, error) {
	text := strings.TrimSpace(resp)
	switch text {
	case model.NoUpdateMarker:
		return model.NoChange(), nil
	case "":
		return model.Decision{}, goerr.Wrap(model.ErrCompletion, "empty completion response")
	default:
		return model.Updated(text), nil
	}
}
