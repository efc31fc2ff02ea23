// README: Shared identifier type; ids are UUID strings.
package types

import "github.com/google/uuid"

type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

// ParseID reports whether v is a well-formed UUID and returns it in canonical form.
func ParseID(v string) (ID, bool) {
	u, err := uuid.Parse(v)
	if err != nil {
		return "", false
	}
	return ID(u.String()), true
}

func (id ID) String() string {
	return string(id)
}
