package ocidist

import (
	"github.com/opencontainers/go-digest"
	"github.com/tidwall/gjson"
)

// Catalog is the response body of the registry's catalog endpoint.
type Catalog struct {
	Repositories []string `json:"repositories"`
}

// TagList is the response body of a repository's tag list endpoint.
//
// Registries send "tags": null for a repository whose tags have all been
// deleted, so Tags may be nil. Callers should treat that the same as an
// empty list.
type TagList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// Manifest represents a Docker image manifest, schema version 2.
type Manifest struct {
	SchemaVersion int64        `json:"schemaVersion"`
	MediaType     string       `json:"mediaType"`
	Config        Descriptor   `json:"config"`
	Layers        []Descriptor `json:"layers"`
}

// Descriptor is a reference to a content-addressable object such as a
// layer or config blob in a registry.
type Descriptor struct {
	MediaType string        `json:"mediaType"`
	Size      uint64        `json:"size"`
	Digest    digest.Digest `json:"digest"`
}

// TotalSize returns the number of bytes a client must download to pull the
// image: every layer plus the config blob.
func (m *Manifest) TotalSize() uint64 {
	total := m.Config.Size
	for _, layer := range m.Layers {
		total += layer.Size
	}
	return total
}

// ConfigBlob is an image configuration blob. We treat it as opaque JSON
// and pick out only the few fields we report, all of which are optional.
type ConfigBlob []byte

// Created returns the image creation timestamp exactly as the blob records
// it, or false if the field is absent or null.
func (b ConfigBlob) Created() (string, bool) {
	return b.stringField("created")
}

// Architecture returns the CPU architecture the image was built for.
func (b ConfigBlob) Architecture() (string, bool) {
	return b.stringField("architecture")
}

// OS returns the operating system the image was built for.
func (b ConfigBlob) OS() (string, bool) {
	return b.stringField("os")
}

func (b ConfigBlob) stringField(name string) (string, bool) {
	result := gjson.GetBytes(b, name)
	if !result.Exists() || result.Type == gjson.Null {
		return "", false
	}
	return result.String(), true
}
