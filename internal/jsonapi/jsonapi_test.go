package jsonapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reportListDoc = `{
	"data": [
		{
			"type": "reports",
			"id": "1",
			"attributes": {"comment": "standup", "date": "2025-03-10", "duration": "00:15:00", "not-billable": true},
			"relationships": {
				"task": {"data": {"type": "tasks", "id": "5"}},
				"user": {"data": {"type": "users", "id": "9"}}
			}
		},
		{
			"type": "reports",
			"id": "2",
			"attributes": {"comment": "review", "date": "2025-03-10", "duration": "01:00:00", "not-billable": false},
			"relationships": {
				"task": {"data": null}
			}
		}
	],
	"included": [
		{"type": "tasks", "id": "5", "attributes": {"name": "Maintenance", "archived": false}},
		{"type": "users", "id": "9", "attributes": {"username": "alice"}}
	],
	"meta": {"pagination": {"pages": 1}}
}`

func TestParseDocument_Collection(t *testing.T) {
	doc, err := ParseDocument([]byte(reportListDoc))
	require.NoError(t, err)

	assert.False(t, doc.Single)
	require.Len(t, doc.Data, 2)
	assert.Equal(t, "reports", doc.Data[0].Type)
	assert.Equal(t, "1", doc.Data[0].ID)
	assert.Len(t, doc.Included, 2)
}

func TestParseDocument_SingleResource(t *testing.T) {
	body := `{"data": {"type": "users", "id": "9", "attributes": {"username": "alice"}}}`

	doc, err := ParseDocument([]byte(body))
	require.NoError(t, err)

	assert.True(t, doc.Single)
	require.Len(t, doc.Data, 1)
	assert.Equal(t, "users", doc.Data[0].Type)
}

func TestParseDocument_NullData(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"data": null}`))
	require.NoError(t, err)

	assert.True(t, doc.Single)
	assert.Empty(t, doc.Data)
}

func TestParseDocument_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", `{"data": [`},
		{"missing data", `{"included": []}`},
		{"scalar data", `{"data": 42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLookup_FindsIncludedAndPrimary(t *testing.T) {
	doc, err := ParseDocument([]byte(reportListDoc))
	require.NoError(t, err)

	task, ok := doc.Lookup("tasks", "5")
	require.True(t, ok)
	assert.Equal(t, "Maintenance", getAttr(t, task, "name"))

	// Primary resources are resolvable too.
	report, ok := doc.Lookup("reports", "2")
	require.True(t, ok)
	assert.Equal(t, "review", getAttr(t, report, "comment"))

	_, ok = doc.Lookup("tasks", "404")
	assert.False(t, ok)
}

func getAttr(t *testing.T, res *Resource, key string) any {
	t.Helper()

	var attrs map[string]any
	require.NoError(t, json.Unmarshal(res.Attributes, &attrs))

	return attrs[key]
}

func TestRelationship_ToOne(t *testing.T) {
	doc, err := ParseDocument([]byte(reportListDoc))
	require.NoError(t, err)

	rel, ok := doc.Data[0].Relationship("task")
	require.True(t, ok)
	require.NotNil(t, rel.One)
	assert.Equal(t, Identifier{Type: "tasks", ID: "5"}, *rel.One)
	assert.False(t, rel.ToMany)
}

func TestRelationship_NullLinkage(t *testing.T) {
	doc, err := ParseDocument([]byte(reportListDoc))
	require.NoError(t, err)

	rel, ok := doc.Data[1].Relationship("task")
	require.True(t, ok)
	assert.Nil(t, rel.One)
	assert.False(t, rel.ToMany)
}

func TestRelationship_ToMany(t *testing.T) {
	var rel Relationship
	require.NoError(t, json.Unmarshal([]byte(`{"data": [{"type": "tasks", "id": "1"}, {"type": "tasks", "id": "2"}]}`), &rel))

	assert.True(t, rel.ToMany)
	require.Len(t, rel.Many, 2)
	assert.Equal(t, "2", rel.Many[1].ID)

	// Empty list stays a to-many linkage on re-encode.
	rel = Relationship{ToMany: true}
	out, err := json.Marshal(rel)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data": []}`, string(out))
}

func TestRelationship_MarshalRoundTrip(t *testing.T) {
	orig := Relationship{One: &Identifier{Type: "users", ID: "9"}}

	out, err := json.Marshal(orig)
	require.NoError(t, err)

	var back Relationship
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, orig, back)
}

func TestMarshalDocument(t *testing.T) {
	res := Resource{
		Type:       "activities",
		Attributes: json.RawMessage(`{"comment":"pairing","from-time":"09:00:00"}`),
		Relationships: map[string]Relationship{
			"task": {One: &Identifier{Type: "tasks", ID: "5"}},
		},
	}

	out, err := MarshalDocument(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"data": {
			"type": "activities",
			"attributes": {"comment": "pairing", "from-time": "09:00:00"},
			"relationships": {"task": {"data": {"type": "tasks", "id": "5"}}}
		}
	}`, string(out))
}

func TestKeyTranslation_Bidirectional(t *testing.T) {
	pairs := map[string]string{
		"from-time":      "FromTime",
		"to-time":        "ToTime",
		"not-billable":   "NotBillable",
		"first-name":     "FirstName",
		"fill-worktime":  "FillWorktime",
		"verified-by":    "VerifiedBy",
		"comment":        "Comment",
		"date":           "Date",
		"absence-credit": "AbsenceCredit",
	}
	for wire, field := range pairs {
		assert.Equal(t, field, WireToField(wire))
		assert.Equal(t, wire, FieldToWire(field))
		// Lossless both ways.
		assert.Equal(t, wire, FieldToWire(WireToField(wire)))
		assert.Equal(t, field, WireToField(FieldToWire(field)))
	}
}
