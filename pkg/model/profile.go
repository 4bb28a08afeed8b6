package model

import "time"

// Profile is the accumulated knowledge about the user. Content is opaque text.
type Profile struct {
	Content    string
	Checkpoint EntryID
	UpdatedAt  time.Time
}

// IsEmpty reports whether the profile has no content
func (p *Profile) IsEmpty() bool {
	return p == nil || p.Content == ""
}

// Clone returns a copy that callers may modify freely
func (p *Profile) Clone() *Profile {
	if p == nil {
		return &Profile{}
	}
	c := *p
	return &c
}
