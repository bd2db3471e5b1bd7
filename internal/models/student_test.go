package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStudentIDKeepsWireForm(t *testing.T) {
	var students []Student
	raw := `[{"id":5,"name":"Ann","age":20,"major":"CS","email":"ann@example.com"},
	         {"id":"b-7","name":"Bob","age":21,"major":"Art","email":"bob@example.com"}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &students))

	require.Len(t, students, 2)
	assert.Equal(t, "5", students[0].ID.String())
	assert.Equal(t, "b-7", students[1].ID.String())

	out, err := json.Marshal(students[0].ID)
	require.NoError(t, err)
	assert.Equal(t, `5`, string(out))
	out, err = json.Marshal(students[1].ID)
	require.NoError(t, err)
	assert.Equal(t, `"b-7"`, string(out))
}

func TestStudentIDNullAndInvalid(t *testing.T) {
	var s Student
	require.NoError(t, json.Unmarshal([]byte(`{"id":null,"name":"x"}`), &s))
	assert.True(t, s.ID.IsZero())

	require.Error(t, json.Unmarshal([]byte(`{"id":true}`), &s))
}

func TestParseStudentID(t *testing.T) {
	assert.True(t, ParseStudentID("  ").IsZero())
	assert.Equal(t, ParseStudentID("12"), StudentID{value: "12"})
	assert.Equal(t, ParseStudentID("abc"), StudentID{value: "abc", quoted: true})
	assert.Equal(t, StudentID{value: "7"}, ParseStudentID("007"))
	assert.Equal(t, StudentID{value: "5"}, ParseStudentID("+5"))

	out, err := json.Marshal(ParseStudentID("007"))
	require.NoError(t, err)
	assert.Equal(t, `7`, string(out))
}

func TestDraftPayloadOmitsID(t *testing.T) {
	d := DraftFrom(Student{ID: ParseStudentID("3"), Name: "Ann", Age: 20, Major: "CS", Email: "a@x"})
	assert.True(t, d.Editing())

	out, err := json.Marshal(d.Payload())
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ann","age":20,"major":"CS","email":"a@x"}`, string(out))
	assert.False(t, Draft{}.Editing())
}

func TestDraftAgeZeroIsPresent(t *testing.T) {
	d := DraftFrom(Student{ID: ParseStudentID("4"), Name: "Ivy", Age: 0, Major: "Music", Email: "i@x"})
	require.NotNil(t, d.Age)
	assert.Equal(t, "0", d.AgeText())
	assert.Equal(t, 0, d.Payload().Age)

	assert.Equal(t, "", Draft{}.AgeText())
}
