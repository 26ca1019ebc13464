package content

import "fmt"

// Type identifies the kind of platform content a piece of text came from.
// It is a closed set: anything else is rejected at the boundary so invalid
// strings never reach the queue or the vector store.
type Type string

const (
	TypeProfile Type = "profile"
	TypePost    Type = "post"
	TypeComment Type = "comment"
	TypeCourse  Type = "course"
	TypeLesson  Type = "lesson"
)

// All lists every valid content type, in default search order.
func All() []Type {
	return []Type{TypeCourse, TypeLesson, TypeProfile, TypePost, TypeComment}
}

func (t Type) Valid() bool {
	switch t {
	case TypeProfile, TypePost, TypeComment, TypeCourse, TypeLesson:
		return true
	}
	return false
}

// Parse validates a raw string coming off the wire.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown content type %q", s)
	}
	return t, nil
}

// Label returns the human-readable group heading used when assembling
// context text for the downstream Q&A workflow.
func (t Type) Label() string {
	switch t {
	case TypeProfile:
		return "User Profiles"
	case TypePost:
		return "Community Posts"
	case TypeComment:
		return "Comments"
	case TypeCourse:
		return "Course Information"
	case TypeLesson:
		return "Lesson Content"
	}
	return string(t)
}
