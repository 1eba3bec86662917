package timed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/timed-cli/internal/jsonapi"
)

// roundTrip encodes an entity into a wire document and decodes it back,
// exercising the full marshal/parse cycle a create response goes
// through.
func roundTrip[T Entity](t *testing.T, entity T) T {
	t.Helper()

	res, err := encodeEntity(entity)
	require.NoError(t, err)

	payload, err := jsonapi.MarshalDocument(res)
	require.NoError(t, err)

	doc, err := jsonapi.ParseDocument(payload)
	require.NoError(t, err)
	require.Len(t, doc.Data, 1)

	var got T
	require.NoError(t, decodeEntity(&got, &doc.Data[0], doc))

	return got
}

func userRef(id string) jsonapi.Identifier {
	return jsonapi.Identifier{Type: TypeUsers, ID: id}
}

func TestActivity_WireRoundTrip(t *testing.T) {
	end := "17:30:00"

	a := Activity{
		ID:          "a1",
		Comment:     "pairing session",
		Date:        "2025-03-10",
		FromTime:    "09:00:00",
		ToTime:      &end,
		Review:      true,
		NotBillable: true,
		UserRef:     userRef("u1"),
		TaskRef:     taskRef("t1"),
	}

	assert.Equal(t, a, roundTrip(t, a))
}

func TestActivity_WireRoundTrip_Running(t *testing.T) {
	a := Activity{
		ID:       "a2",
		Comment:  "still going",
		Date:     "2025-03-10",
		FromTime: "14:00:00",
		TaskRef:  taskRef("t1"),
	}

	got := roundTrip(t, a)
	assert.Nil(t, got.ToTime, "a running activity keeps its open end")
	assert.Equal(t, a, got)
}

func TestReport_WireRoundTrip(t *testing.T) {
	r := Report{
		ID:          "r1",
		Comment:     "refactoring",
		Date:        "2025-03-10",
		Duration:    "01:30:00",
		Review:      true,
		NotBillable: true,
		Verified:    Bool(true),
		Billed:      Bool(false),
		Rejected:    Bool(false),
		UserRef:     userRef("u1"),
		TaskRef:     taskRef("t1"),
	}

	assert.Equal(t, r, roundTrip(t, r))
}

func TestAttendance_WireRoundTrip(t *testing.T) {
	end := "17:00:00"

	a := Attendance{
		ID:       "at1",
		Date:     "2025-03-10",
		FromTime: "08:30:00",
		ToTime:   &end,
		UserRef:  userRef("u1"),
	}

	assert.Equal(t, a, roundTrip(t, a))
}

func TestAbsence_WireRoundTrip(t *testing.T) {
	a := Absence{
		ID:             "ab1",
		Date:           "2025-03-10",
		Comment:        "dentist",
		UserRef:        userRef("u1"),
		AbsenceTypeRef: jsonapi.Identifier{Type: TypeAbsenceTypes, ID: "sick"},
	}

	assert.Equal(t, a, roundTrip(t, a))
}
