package links

import (
	"maps"

	"github.com/oshokin/bedrock-up/internal/domain/release"
)

// Record maps a catalog download type to the identity last applied for it.
type Record struct {
	// Links is keyed by release.Channel.DownloadType.
	Links map[string]string `json:"links"`
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{Links: make(map[string]string)}
}

// Identity returns the cached identity for channel.
func (r *Record) Identity(channel release.Channel) (string, bool) {
	if r == nil || r.Links == nil {
		return "", false
	}

	identity, ok := r.Links[channel.DownloadType()]

	return identity, ok
}

// Set records identity as applied for channel.
func (r *Record) Set(channel release.Channel, identity string) {
	if r.Links == nil {
		r.Links = make(map[string]string)
	}

	r.Links[channel.DownloadType()] = identity
}

// Clone returns a copy that does not share the underlying map.
func (r *Record) Clone() *Record {
	cloned := NewRecord()
	if r != nil {
		maps.Copy(cloned.Links, r.Links)
	}

	return cloned
}
