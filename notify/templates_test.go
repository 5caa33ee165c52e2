package notify

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderDeterministic(t *testing.T) {
	payload := DerivativePayload{SubjectID: "work-1", DerivativeID: "work-9", Similarity: 0.85}
	title1, message1, priority1 := Render(payload)
	title2, message2, priority2 := Render(payload)
	require.Equal(t, title1, title2)
	require.Equal(t, message1, message2)
	require.Equal(t, priority1, priority2)
	require.Contains(t, message1, "0.85")
	require.Contains(t, message1, "work-1")
	require.Contains(t, message1, "work-9")
}

func TestRenderFormatsAmounts(t *testing.T) {
	_, message, _ := Render(ClaimSuccessPayload{
		ChapterID: "chapter-7",
		Claimed:   big.NewInt(1_500_000_000_000_000_000),
		Net:       big.NewInt(1_250_000_000_000_000_000),
	})
	require.Contains(t, message, "1.5")
	require.Contains(t, message, "1.25")
}

func TestSubstituteLeavesUnknownTokens(t *testing.T) {
	out := substitute("hello {name}, {unknown} stays", map[string]string{"name": "ada"})
	require.Equal(t, "hello ada, {unknown} stays", out)
}

func TestSubstituteHandlesDanglingBrace(t *testing.T) {
	out := substitute("broken {token", map[string]string{"token": "x"})
	require.Equal(t, "broken {token", out)
}
