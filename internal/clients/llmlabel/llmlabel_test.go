package llmlabel

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/codeframe-backend/internal/domain"
)

func TestParseMapsIndexesToAnswerIDs(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	req := types.LabelRequest{ClusterID: 4, AnswerIDs: ids, Texts: []string{"too pricey", "cheap", "costs a lot"}}

	raw := "Sure, here you go:\n" + `{"theme_name":"Price","theme_description":"cost","confidence":0.9,
	  "codes":[{"name":"Expensive","confidence":1.4,"answer_indexes":[0,2,9]},
	           {"name":"Cheap","confidence":0.6,"answer_indexes":[1,0]}]}`

	label, err := Parse(raw, req)
	require.NoError(t, err)
	assert.Equal(t, 4, label.ClusterID)
	assert.Equal(t, "Price", label.ThemeName)
	require.Len(t, label.Codes, 2)
	assert.Equal(t, []uuid.UUID{ids[0], ids[2]}, label.Codes[0].AnswerIDs)
	assert.Equal(t, 1.0, label.Codes[0].Confidence)
	assert.Equal(t, []uuid.UUID{ids[1]}, label.Codes[1].AnswerIDs)
	assert.Equal(t, []string{"too pricey", "costs a lot"}, label.Codes[0].Examples)
}

func TestParseRejectsEmptyReplies(t *testing.T) {
	_, err := Parse("no json here", types.LabelRequest{})
	require.Error(t, err)

	_, err = Parse(`{"theme_name":"X","codes":[]}`, types.LabelRequest{})
	require.Error(t, err)
}

func TestBuildPromptTruncatesLongAnswers(t *testing.T) {
	long := strings.Repeat("a", maxAnswerChars+50)
	_, user := BuildPrompt(types.LabelRequest{ClusterID: 1, Texts: []string{long}, TargetLanguage: "de"})
	assert.Contains(t, user, "Language: de")
	assert.NotContains(t, user, strings.Repeat("a", maxAnswerChars+1))
}

func TestBuildPromptTruncatesOnCharacters(t *testing.T) {
	long := strings.Repeat("日本", maxAnswerChars)
	_, user := BuildPrompt(types.LabelRequest{ClusterID: 1, Texts: []string{long}, TargetLanguage: "ja"})
	assert.True(t, utf8.ValidString(user))
	assert.Contains(t, user, strings.Repeat("日本", maxAnswerChars/2)+"\n")
	assert.NotContains(t, user, strings.Repeat("日本", maxAnswerChars/2)+"日")
}
