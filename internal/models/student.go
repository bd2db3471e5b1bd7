package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StudentID is the identifier assigned by the students API. It is opaque: a
// numeric id stays numeric on the wire and a string id stays a string. The zero
// value means the record has not been created yet.
type StudentID struct {
	value  string
	quoted bool
}

// ParseStudentID interprets an identifier taken from a URL or a form field.
// Integers become numeric ids in canonical form ("007" is 7), anything else a
// string id.
func ParseStudentID(raw string) StudentID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return StudentID{}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return StudentID{value: strconv.FormatInt(n, 10)}
	}
	return StudentID{value: raw, quoted: true}
}

// String returns the textual form used in URLs.
func (id StudentID) String() string {
	return id.value
}

// IsZero reports whether no identifier has been assigned.
func (id StudentID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON encodes the id in the form it was received.
func (id StudentID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	if id.quoted {
		return json.Marshal(id.value)
	}
	return []byte(id.value), nil
}

// UnmarshalJSON accepts a JSON number, a JSON string or null.
func (id *StudentID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = StudentID{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StudentID{value: s, quoted: true}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("student id must be a number or string: %w", err)
	}
	*id = StudentID{value: n.String()}
	return nil
}

// Student is a record as returned by the students API.
type Student struct {
	ID    StudentID `json:"id"`
	Name  string    `json:"name"`
	Age   int       `json:"age"`
	Major string    `json:"major"`
	Email string    `json:"email"`
}

// StudentPayload is the body sent on create and update. It never carries an id.
type StudentPayload struct {
	Name  string `json:"name"`
	Age   int    `json:"age"`
	Major string `json:"major"`
	Email string `json:"email"`
}

// Draft is the form's working copy. A zero ID means a new record is being
// created. A nil Age means no age has been entered; zero is a valid age.
type Draft struct {
	ID    StudentID `json:"id"`
	Name  string    `json:"name" validate:"required"`
	Age   *int      `json:"age" validate:"required"`
	Major string    `json:"major" validate:"required"`
	Email string    `json:"email" validate:"required"`
}

// DraftFrom copies every field of s, identifier included.
func DraftFrom(s Student) Draft {
	age := s.Age
	return Draft{ID: s.ID, Name: s.Name, Age: &age, Major: s.Major, Email: s.Email}
}

// AgeText renders the entered age, or an empty string when none was entered.
func (d Draft) AgeText() string {
	if d.Age == nil {
		return ""
	}
	return strconv.Itoa(*d.Age)
}

// Editing reports whether the draft targets an existing record.
func (d Draft) Editing() bool {
	return !d.ID.IsZero()
}

// Payload strips the identifier for the request body.
func (d Draft) Payload() StudentPayload {
	var age int
	if d.Age != nil {
		age = *d.Age
	}
	return StudentPayload{Name: d.Name, Age: age, Major: d.Major, Email: d.Email}
}
