package repository

import (
	"bytes"
	"time"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// The profile is stored as a markdown document whose front matter carries the
// checkpoint, so one rename commits both.
//
//	---
//	checkpoint: "42"
//	updated_at: 2026-10-16T10:00:00Z
//	---
//	<content>
var (
	frontMatterOpen  = []byte("---\n")
	frontMatterClose = []byte("\n---\n")
)

type frontMatter struct {
	Checkpoint *string   `yaml:"checkpoint"`
	UpdatedAt  time.Time `yaml:"updated_at,omitempty"`
}

func encodeProfile(p *model.Profile) ([]byte, error) {
	checkpoint := string(p.Checkpoint)
	header, err := yaml.Marshal(&frontMatter{
		Checkpoint: &checkpoint,
		UpdatedAt:  p.UpdatedAt.UTC(),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode profile header")
	}

	var buf bytes.Buffer
	buf.Write(frontMatterOpen)
	buf.Write(header)
	buf.WriteString("---\n")
	buf.WriteString(p.Content)
	return buf.Bytes(), nil
}

// decodeProfile parses a stored document. Only a fenced header made of our
// own fields with a checkpoint key is front matter. Anything else, including
// a hand-written profile that opens with its own "---" block, is legacy
// content with no checkpoint.
func decodeProfile(data []byte) *model.Profile {
	legacy := &model.Profile{Content: string(data)}
	if !bytes.HasPrefix(data, frontMatterOpen) {
		return legacy
	}

	rest := data[len(frontMatterOpen):]
	idx := bytes.Index(rest, frontMatterClose)
	if idx < 0 {
		return legacy
	}
	header, body := rest[:idx], rest[idx+len(frontMatterClose):]

	var fm frontMatter
	dec := yaml.NewDecoder(bytes.NewReader(header))
	dec.KnownFields(true)
	if err := dec.Decode(&fm); err != nil || fm.Checkpoint == nil {
		return legacy
	}

	return &model.Profile{
		Content:    string(body),
		Checkpoint: model.EntryID(*fm.Checkpoint),
		UpdatedAt:  fm.UpdatedAt,
	}
}
