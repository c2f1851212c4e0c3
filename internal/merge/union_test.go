package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUnionKeepsBothSides(t *testing.T) {
	conflicted := `alpha
<<<<<<< HEAD
beta-ours
=======
beta-theirs
>>>>>>> overstory/builder-1/ov-1
omega
`
	resolved, err := resolveUnion([]byte(conflicted))
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta-ours\nbeta-theirs\nomega\n", string(resolved))
}

func TestResolveUnionDropsBaseSection(t *testing.T) {
	conflicted := `<<<<<<< HEAD
ours
||||||| merged common ancestors
base
=======
theirs
>>>>>>> branch
`
	resolved, err := resolveUnion([]byte(conflicted))
	require.NoError(t, err)
	assert.Equal(t, "ours\ntheirs\n", string(resolved))
}

func TestResolveUnionMultipleConflicts(t *testing.T) {
	conflicted := `<<<<<<< HEAD
a1
=======
a2
>>>>>>> branch
shared
<<<<<<< HEAD
b1
=======
b2
>>>>>>> branch
`
	resolved, err := resolveUnion([]byte(conflicted))
	require.NoError(t, err)
	assert.Equal(t, "a1\na2\nshared\nb1\nb2\n", string(resolved))
}

func TestResolveUnionRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"no markers", "just a file\n"},
		{"unterminated", "<<<<<<< HEAD\nours\n=======\ntheirs\n"},
		{"nested open", "<<<<<<< HEAD\n<<<<<<< HEAD\n"},
		{"stray close", "text\n>>>>>>> branch\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := resolveUnion([]byte(tc.content))
			assert.Error(t, err)
		})
	}
}
