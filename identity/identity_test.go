package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agilehead/persona/identity"
)

func TestLinked(t *testing.T) {
	ident := &identity.Identity{}
	assert.False(t, ident.Linked())

	ident.UserID = "user-1"
	assert.True(t, ident.Linked())
}

func TestPlaceholderEmail(t *testing.T) {
	assert.Equal(t, "subject-9@google.local", identity.PlaceholderEmail("subject-9", "google"))
}
