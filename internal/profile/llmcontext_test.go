package profile

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/wordwise/pkg/learning"
	"github.com/MrWong99/wordwise/pkg/learning/memstore"
)

func TestBuildLLMContext_NewUser(t *testing.T) {
	agg, _ := newTestAggregator(t, memstore.New())

	got, err := agg.BuildLLMContext(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, LevelNewUser, got.WritingLevel)
	assert.Equal(t, NeutralScore, got.OverallScore)
	assert.Empty(t, got.TopErrors)
	assert.Empty(t, got.ConfusionPairs)
	assert.Empty(t, got.DictionaryWords)

	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"top_errors":[]`)
	assert.Contains(t, string(raw), `"writing_level":"new_user"`)
}

func TestBuildLLMContext_Caps(t *testing.T) {
	ctx := context.Background()
	agg, _ := newTestAggregator(t, memstore.New(),
		WithContextCaps(ContextCaps{TopErrors: 2, ConfusionPairs: 1, DictionaryWords: 1}))

	logN(t, agg, 3, entry("teh", "the", learning.ErrorTypeTransposition))
	logN(t, agg, 2, entry("bog", "dog", learning.ErrorTypeReversal))
	logN(t, agg, 1, entry("wnet", "went", learning.ErrorTypeTransposition))
	logN(t, agg, 2, entry("there", "their", learning.ErrorTypeHomophone))
	logN(t, agg, 1, entry("to", "too", learning.ErrorTypeHomophone))
	for _, w := range []string{"golang", "kubernetes"} {
		_, err := agg.AddToDictionary(ctx, "u1", w, "")
		require.NoError(t, err)
	}

	got, err := agg.BuildLLMContext(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, LevelDeveloping, got.WritingLevel)
	require.Len(t, got.TopErrors, 2)
	assert.Equal(t, "teh", got.TopErrors[0].Original)
	assert.Equal(t, []ConfusionHint{{WordA: "their", WordB: "there", Count: 2}}, got.ConfusionPairs)
	assert.Equal(t, []string{"golang"}, got.DictionaryWords)
	assert.Len(t, got.ErrorTypeBreakdown, len(learning.AllErrorTypes()))
}

func TestWritingLevel(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{0, LevelDeveloping},
		{39, LevelDeveloping},
		{40, LevelProgressing},
		{69, LevelProgressing},
		{70, LevelConfident},
		{100, LevelConfident},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, writingLevel(tt.score), "score %d", tt.score)
	}
}

func TestLLMContext_Prompt(t *testing.T) {
	c := &LLMContext{
		WritingLevel: LevelProgressing,
		OverallScore: 55,
		TopErrors:    []learning.TopError{{Original: "teh", Corrected: "the", Frequency: 4}},
		ConfusionPairs: []ConfusionHint{
			{WordA: "their", WordB: "there", Count: 2},
		},
		ErrorTypeBreakdown: map[learning.ErrorType]float64{
			learning.ErrorTypeTransposition: 80,
			learning.ErrorTypeHomophone:     20,
		},
		DictionaryWords: []string{"golang"},
	}
	got := c.Prompt()

	assert.Contains(t, got, "Writer profile: level progressing, score 55/100.")
	assert.Contains(t, got, `- "teh" -> "the" (4x)`)
	assert.Contains(t, got, "- their / there (2x)")
	assert.Contains(t, got, "transposition 80.0%, homophone 20.0%")
	assert.Contains(t, got, "## Never Flag\ngolang")

	var nilCtx *LLMContext
	assert.Empty(t, nilCtx.Prompt())

	bare := newUserContext("u").Prompt()
	assert.NotContains(t, bare, "##")
}
