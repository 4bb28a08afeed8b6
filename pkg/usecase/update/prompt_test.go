package update

import (
	"errors"
	"testing"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/m-mizutani/gt"
)

func TestParseResponse(t *testing.T) {
	d, err := parseResponse("NO_UPDATE")
	gt.NoError(t, err)
	gt.Equal(t, d.Kind, model.DecisionNoChange)

	d, err = parseResponse("\n  NO_UPDATE \t\n")
	gt.NoError(t, err)
	gt.Equal(t, d.Kind, model.DecisionNoChange)

	// the marker is case-sensitive and must be the whole response
	d, err = parseResponse("no_update")
	gt.NoError(t, err)
	gt.Equal(t, d.Kind, model.DecisionUpdated)
	gt.Equal(t, d.Content, "no_update")

	d, err = parseResponse("NO_UPDATE, the user already said that")
	gt.NoError(t, err)
	gt.Equal(t, d.Kind, model.DecisionUpdated)

	d, err = parseResponse("  Likes Go.\n")
	gt.NoError(t, err)
	gt.Equal(t, d.Content, "Likes Go.")

	_, err = parseResponse(" \n ")
	gt.True(t, errors.Is(err, model.ErrCompletion))
}

func TestBuildPrompt(t *testing.T) {
	entry := &model.LogEntry{ID: "1", UserText: "I use Emacs"}

	p, err := buildPrompt("", entry, 100)
	gt.NoError(t, err)
	gt.S(t, p).Contains("(empty)")
	gt.S(t, p).Contains("I use Emacs")
	gt.S(t, p).Contains("`NO_UPDATE`")
	gt.S(t, p).Contains("under 100 words")

	p, err = buildPrompt("- Uses vim", entry, 100)
	gt.NoError(t, err)
	gt.S(t, p).Contains("- Uses vim")
	gt.S(t, p).NotContains("(empty)")
}
