package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankOrdering(t *testing.T) {
	all := All()
	for i := 1; i < len(all); i++ {
		assert.Greater(t, Rank(all[i]), Rank(all[i-1]), "%s must rank above %s", all[i], all[i-1])
	}
	assert.Equal(t, -1, Rank(Phase("bogus")))
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Phase
	}{
		{"research", Research},
		{"investigate", Research},
		{"planning", Plan},
		{"implement", Do},
		{"verify", Check},
		{"refine", Act},
		{"done", Completed},
		{"archive", Archived},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := Parse("deploy")
	require.Error(t, err)
}

func TestPhaseForFolder(t *testing.T) {
	p, ok := PhaseForFolder("design")
	require.True(t, ok)
	assert.Equal(t, Design, p)

	_, ok = PhaseForFolder("notes")
	assert.False(t, ok)
}

func TestDocTypeForFolder(t *testing.T) {
	dt, ok := DocTypeForFolder("plan")
	require.True(t, ok)
	assert.Equal(t, DocPlan, dt)

	dt, ok = DocTypeForFolder("check")
	require.True(t, ok)
	assert.Equal(t, DocAnalysis, dt)

	_, ok = DocTypeForFolder("misc")
	assert.False(t, ok)
}

func TestDocTypeForPhase(t *testing.T) {
	assert.Equal(t, DocPlan, DocTypeForPhase(Plan))
	assert.Equal(t, DocAnalysis, DocTypeForPhase(Do))
	assert.Equal(t, DocReport, DocTypeForPhase(Completed))
	assert.Equal(t, DocReport, DocTypeForPhase(Archived))
}
