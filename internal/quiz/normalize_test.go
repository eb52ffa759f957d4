package quiz

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/codetutor/internal/domain"
)

func TestNormalizeOptions(t *testing.T) {
	t.Parallel()

	want := []string{"X", "Y", "Z", "W"}

	var labeled any
	require.NoError(t, json.Unmarshal([]byte(`{"a":"X","b":"Y","c":"Z","d":"W"}`), &labeled))
	got, err := NormalizeOptions(labeled)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	var list any
	require.NoError(t, json.Unmarshal([]byte(`["X","Y","Z","W"]`), &list))
	got, err = NormalizeOptions(list)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	again, err := NormalizeOptions(got)
	require.NoError(t, err)
	assert.Equal(t, got, again, "normalization must be idempotent")
}

func TestNormalizeOptionsLabelCaseAndOrder(t *testing.T) {
	t.Parallel()

	got, err := NormalizeOptions(map[string]any{"D": "W", "C": "Z", "B": "Y", "A": "X"})
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y", "Z", "W"}, got)

	_, err = NormalizeOptions(map[string]any{"a": "X", "b": "Y", "c": "Z", "e": "W"})
	assert.Error(t, err)

	_, err = NormalizeOptions([]any{"X", "Y"})
	assert.Error(t, err)
}

func TestCanonicalAnswer(t *testing.T) {
	t.Parallel()

	options := []string{"A closure", "A loop", "A class", "Nothing"}
	tests := map[string]string{
		"b":         "B",
		" C ":       "C",
		"(d)":       "D",
		"a)":        "A",
		"Option B":  "B",
		"a loop":    "B",
		"A closure": "A",
		"Nothing":   "D",
		"c.":        "C",
		"B: a loop": "B",
	}
	for in, want := range tests {
		got, ok := CanonicalAnswer(in, options)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := CanonicalAnswer("e", options)
	assert.False(t, ok)
	_, ok = CanonicalAnswer("A closure that captures variables", []string{"A loop", "A closure over variables", "A class", "Nothing"})
	assert.False(t, ok, "prose starting with the article A is not a label")
	_, ok = CanonicalAnswer("", options)
	assert.False(t, ok)
}

func TestParseQuestionsFencedLabeledMap(t *testing.T) {
	t.Parallel()

	text := "Here is your quiz:\n```json\n" + `[
  {"question": "What does [1,2][0] return?", "options": {"a": "1", "b": "2", "c": "undefined", "d": "error"}, "answer": "a", "explanation": "Index 0."},
  {"question": "Which keyword declares a constant?", "options": ["let", "var", "const", "static"], "correct_answer": "const", "explanation": "const."}
]` + "\n```\nGood luck!"

	questions, err := ParseQuestions(text, domain.DifficultyIntermediate)
	require.NoError(t, err)
	require.Len(t, questions, 2)

	assert.Equal(t, "q1", questions[0].ID)
	assert.Equal(t, []string{"1", "2", "undefined", "error"}, questions[0].Options)
	assert.Equal(t, "A", questions[0].CorrectAnswer)
	assert.Equal(t, domain.DifficultyIntermediate, questions[0].Difficulty)

	assert.Equal(t, "q2", questions[1].ID)
	assert.Equal(t, "C", questions[1].CorrectAnswer)
}

func TestParseQuestionsSkipsInvalidItems(t *testing.T) {
	t.Parallel()

	text := `[{"question": "", "options": ["a","b","c","d"], "answer": "a"},
	          {"question": "ok?", "options": ["a","b","c","d"], "answer": "z"},
	          {"question": "fine?", "options": ["w","x","y","z"], "answer": "B"}]`

	questions, err := ParseQuestions(text, domain.DifficultyBeginner)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, "fine?", questions[0].Question)
	assert.Equal(t, "q1", questions[0].ID)
}

func TestParseQuestionsUnparseable(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "I cannot make a quiz right now.", "[not json", `{"question":"x"}`, `[]`} {
		_, err := ParseQuestions(text, domain.DifficultyBeginner)
		assert.True(t, errors.Is(err, ErrNoQuestions), "input %q", text)
	}
}

func TestJSONArraysIgnoresBracketsInStrings(t *testing.T) {
	t.Parallel()

	arrays := jsonArrays(`prefix [see note] then [{"q":"a ] tricky [ one"}] suffix`)
	require.NotEmpty(t, arrays)
	assert.Equal(t, `[{"q":"a ] tricky [ one"}]`, arrays[0])
}

func TestParseQuestionsSkipsEmptyArraysInProse(t *testing.T) {
	t.Parallel()

	item := `{"question": "What is the zero value of a slice?", "options": ["nil", "[]", "0", "panic"], "answer": "a"}`

	tests := map[string]string{
		"slice notation before array": "Here is a quiz about Go slices ([]T) and []int:\n[" + item + "]",
		"empty fence before array":    "```go\nvar s []int\n```\nQuiz:\n[" + item + "]",
		"useless array first":         `Use [1, 2, 3] as input. [` + item + `]`,
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			questions, err := ParseQuestions(text, domain.DifficultyBeginner)
			require.NoError(t, err)
			require.Len(t, questions, 1)
			assert.Equal(t, "q1", questions[0].ID)
			assert.Equal(t, "A", questions[0].CorrectAnswer)
			assert.Equal(t, "[]", questions[0].Options[1])
		})
	}
}
