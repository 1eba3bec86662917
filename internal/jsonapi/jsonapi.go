// Package jsonapi decodes and encodes the subset of the JSON:API
// document format the timed backend speaks: primary resources under
// "data" (one object or an array), sideloaded related resources under
// "included", each tagged by type and id. links/meta members pass
// through undecoded.
package jsonapi

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Identifier is a weak reference to a resource: type plus id.
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Relationship is the linkage of one named relationship. Either a
// to-one reference (One, possibly nil for null linkage) or a to-many
// list (Many, with ToMany set even when the list is empty).
type Relationship struct {
	One    *Identifier
	Many   []Identifier
	ToMany bool
}

// relationshipShell matches the wire shape {"data": ...}.
type relationshipShell struct {
	Data json.RawMessage `json:"data"`
}

func (r *Relationship) UnmarshalJSON(b []byte) error {
	var shell relationshipShell
	if err := json.Unmarshal(b, &shell); err != nil {
		return err
	}

	data := bytes.TrimSpace(shell.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = Relationship{}
		return nil
	}

	if data[0] == '[' {
		var many []Identifier
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}

		*r = Relationship{Many: many, ToMany: true}

		return nil
	}

	var one Identifier
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}

	*r = Relationship{One: &one}

	return nil
}

func (r Relationship) MarshalJSON() ([]byte, error) {
	shell := struct {
		Data any `json:"data"`
	}{}

	switch {
	case r.ToMany:
		if r.Many == nil {
			shell.Data = []Identifier{}
		} else {
			shell.Data = r.Many
		}
	case r.One != nil:
		shell.Data = r.One
	}

	return json.Marshal(shell)
}

// Resource is one resource object. Attributes stay raw so typed models
// can decode exactly the fields they know about while unknown fields
// ride through untouched.
type Resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id,omitempty"`
	Attributes    json.RawMessage         `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
}

// Relationship returns the named relationship, or a zero value when
// the resource does not carry it.
func (r *Resource) Relationship(name string) (Relationship, bool) {
	rel, ok := r.Relationships[name]
	return rel, ok
}

// Document is a decoded compound document. Data always holds a slice;
// Single records whether the wire form was a lone object.
type Document struct {
	Data     []Resource
	Single   bool
	Included []Resource

	lookup map[Identifier]*Resource
}

type documentShell struct {
	Data     json.RawMessage `json:"data"`
	Included []Resource      `json:"included"`
}

// ParseDocument decodes a compound document. The kind of the "data"
// member (object, array, or null) is sniffed before decoding so both
// single-resource and collection responses share one path.
func ParseDocument(body []byte) (*Document, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}

	data := gjson.GetBytes(body, "data")
	if !data.Exists() {
		return nil, fmt.Errorf("document has no data member")
	}

	var shell documentShell
	if err := json.Unmarshal(body, &shell); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}

	doc := &Document{Included: shell.Included}

	switch {
	case data.IsArray():
		if err := json.Unmarshal(shell.Data, &doc.Data); err != nil {
			return nil, fmt.Errorf("decoding resource list: %w", err)
		}
	case data.Type == gjson.Null:
		doc.Single = true
	case data.IsObject():
		var res Resource
		if err := json.Unmarshal(shell.Data, &res); err != nil {
			return nil, fmt.Errorf("decoding resource: %w", err)
		}

		doc.Single = true
		doc.Data = []Resource{res}
	default:
		return nil, fmt.Errorf("data member has unexpected kind %s", data.Type)
	}

	return doc, nil
}

// Lookup returns the included (or primary) resource with the given
// identity. Missing references are not an error; the caller keeps the
// identifier unresolved.
func (d *Document) Lookup(typ, id string) (*Resource, bool) {
	if d.lookup == nil {
		d.lookup = make(map[Identifier]*Resource, len(d.Included)+len(d.Data))
		for i := range d.Included {
			res := &d.Included[i]
			d.lookup[Identifier{Type: res.Type, ID: res.ID}] = res
		}
		for i := range d.Data {
			res := &d.Data[i]
			d.lookup[Identifier{Type: res.Type, ID: res.ID}] = res
		}
	}

	res, ok := d.lookup[Identifier{Type: typ, ID: id}]

	return res, ok
}

// MarshalDocument wraps a single resource in a {"data": ...} document
// for create and update requests.
func MarshalDocument(res Resource) ([]byte, error) {
	return json.Marshal(struct {
		Data Resource `json:"data"`
	}{Data: res})
}
