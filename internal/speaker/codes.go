package speaker

import (
	"fmt"

	"github.com/bristlenose/bristlenose/pkg/types"
)

// CodeAssigner assigns project-stable codes to classified speakers:
// "m{k}"/"o{k}" numbered per-session for researchers/observers, "p{k}"
// numbered globally across the whole run in session-ID order. Codes are
// never reused once assigned, even across multiple assignment calls
// against the same CodeAssigner.
type CodeAssigner struct {
	nextParticipant int
}

// NewCodeAssigner returns a CodeAssigner starting participant numbering at
// p1.
func NewCodeAssigner() *CodeAssigner {
	return &CodeAssigner{nextParticipant: 1}
}

// Advance ensures future participant codes never collide with codes loaded
// from a cached, previously-assigned session: n is the highest participant
// number already used, so the next call to AssignSession continues after
// it rather than reassigning a number a skipped session already holds.
func (c *CodeAssigner) Advance(n int) {
	if n+1 > c.nextParticipant {
		c.nextParticipant = n + 1
	}
}

// AssignSession assigns codes to speakers within one session, mutating
// their Code field in place. Researchers and observers are numbered
// session-locally starting at 1; participants draw the next unused global
// number. Call sessions in session-ID order so participant numbering is
// stable.
func (c *CodeAssigner) AssignSession(speakers []types.Speaker) {
	nextResearcher, nextObserver := 1, 1
	for i := range speakers {
		switch speakers[i].Role {
		case types.RoleResearcher:
			speakers[i].Code = fmt.Sprintf("m%d", nextResearcher)
			nextResearcher++
		case types.RoleObserver:
			speakers[i].Code = fmt.Sprintf("o%d", nextObserver)
			nextObserver++
		default:
			speakers[i].Code = fmt.Sprintf("p%d", c.nextParticipant)
			c.nextParticipant++
		}
	}
}
