package quiz

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/llm"
)

// OptionLabels are the canonical labels of the four options, in order.
var OptionLabels = []string{"A", "B", "C", "D"}

// ErrNoQuestions is returned when a completion holds no usable question.
var ErrNoQuestions = errors.New("no valid quiz questions in completion")

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n?(.*?)```")

// itemSchema accepts options either as a labeled object or as an array.
var itemSchema = &llm.Schema{
	Name: "quiz-item",
	Definition: map[string]any{
		"type":     "object",
		"required": []string{"question", "options"},
		"properties": map[string]any{
			"question": map[string]any{"type": "string", "minLength": 1},
			"options": map[string]any{
				"oneOf": []any{
					map[string]any{"type": "array", "minItems": 4, "maxItems": 4},
					map[string]any{"type": "object", "minProperties": 4},
				},
			},
			"answer":         map[string]any{"type": "string"},
			"correct_answer": map[string]any{"type": "string"},
			"explanation":    map[string]any{"type": "string"},
			"code_snippet":   map[string]any{"type": "string"},
			"concepts":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"anyOf": []any{
			map[string]any{"required": []string{"answer"}},
			map[string]any{"required": []string{"correct_answer"}},
		},
	},
}

// ParseQuestions turns free-form completion text into canonical questions.
// It looks at the body of the first markdown fence, then at the whole text,
// and takes the first balanced JSON array that yields at least one valid
// item. Arrays that yield nothing, such as "[]T" in prose, are skipped.
// Each item is validated and its options normalized to an ordered list of
// four strings and its correct answer to an option label. Invalid items are
// skipped; if no array yields a question the result is ErrNoQuestions.
func ParseQuestions(text string, difficulty domain.Difficulty) ([]domain.QuizQuestion, error) {
	sources := []string{text}
	if body, ok := fencedBody(text); ok {
		sources = []string{body, text}
	}
	for _, src := range sources {
		for _, raw := range jsonArrays(src) {
			if questions := decodeQuestions(raw, difficulty); len(questions) > 0 {
				return questions, nil
			}
		}
	}
	return nil, ErrNoQuestions
}

func decodeQuestions(raw string, difficulty domain.Difficulty) []domain.QuizQuestion {
	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	questions := make([]domain.QuizQuestion, 0, len(items))
	for _, item := range items {
		q, err := normalizeItem(item, difficulty)
		if err != nil {
			continue
		}
		q.ID = questionID(len(questions))
		questions = append(questions, q)
	}
	return questions
}

func questionID(index int) string {
	return fmt.Sprintf("q%d", index+1)
}

func normalizeItem(item any, difficulty domain.Difficulty) (domain.QuizQuestion, error) {
	if err := llm.Validate(itemSchema, item); err != nil {
		return domain.QuizQuestion{}, err
	}
	obj := item.(map[string]any)

	options, err := NormalizeOptions(obj["options"])
	if err != nil {
		return domain.QuizQuestion{}, err
	}

	answer, _ := obj["answer"].(string)
	if answer == "" {
		answer, _ = obj["correct_answer"].(string)
	}
	label, ok := CanonicalAnswer(answer, options)
	if !ok {
		return domain.QuizQuestion{}, fmt.Errorf("answer %q matches no option", answer)
	}

	q := domain.QuizQuestion{
		Type:          "multiple-choice",
		Question:      strings.TrimSpace(obj["question"].(string)),
		Options:       options,
		CorrectAnswer: label,
		Difficulty:    difficulty,
		Concepts:      []string{},
	}
	q.Explanation, _ = obj["explanation"].(string)
	q.CodeSnippet, _ = obj["code_snippet"].(string)
	if concepts, ok := obj["concepts"].([]any); ok {
		q.Concepts = lo.FilterMap(concepts, func(c any, _ int) (string, bool) {
			s, ok := c.(string)
			return s, ok && s != ""
		})
	}
	return q, nil
}

// NormalizeOptions converts a decoded options value into an ordered list of
// four strings. A labeled map is ordered a, b, c, d (labels are case
// insensitive); an array is kept in order. Normalizing an already
// normalized list returns it unchanged.
func NormalizeOptions(v any) ([]string, error) {
	switch opts := v.(type) {
	case []string:
		if len(opts) != len(OptionLabels) {
			return nil, fmt.Errorf("expected %d options, got %d", len(OptionLabels), len(opts))
		}
		return append([]string(nil), opts...), nil
	case []any:
		if len(opts) != len(OptionLabels) {
			return nil, fmt.Errorf("expected %d options, got %d", len(OptionLabels), len(opts))
		}
		return lo.Map(opts, func(o any, _ int) string { return optionText(o) }), nil
	case map[string]any:
		byLabel := make(map[string]string, len(opts))
		for k, o := range opts {
			byLabel[strings.ToUpper(strings.TrimSpace(k))] = optionText(o)
		}
		out := make([]string, 0, len(OptionLabels))
		for _, label := range OptionLabels {
			text, ok := byLabel[label]
			if !ok {
				return nil, fmt.Errorf("option %s missing", label)
			}
			out = append(out, text)
		}
		return out, nil
	case map[string]string:
		m := make(map[string]any, len(opts))
		for k, o := range opts {
			m[k] = o
		}
		return NormalizeOptions(m)
	default:
		return nil, fmt.Errorf("unsupported options shape %T", v)
	}
}

func optionText(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

var labeledAnswer = regexp.MustCompile(`(?i)^(?:option\s+([a-d])[).:]?|\(([a-d])\)|([a-d])[).:]|([a-d]))(?:\s|$)`)

// CanonicalAnswer maps a model-supplied answer to its option label. It
// accepts the full text of one of the options, a bare letter ("b", "B") or
// a labeled letter ("B)", "(b)", "c.", "Option C"). A leading letter with no
// label punctuation is prose, not a label: "A closure" names no option.
func CanonicalAnswer(answer string, options []string) (string, bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", false
	}
	for i, opt := range options {
		if i < len(OptionLabels) && strings.EqualFold(opt, answer) {
			return OptionLabels[i], true
		}
	}
	m := labeledAnswer.FindStringSubmatch(answer)
	if m == nil {
		return "", false
	}
	if m[4] != "" && len(answer) != 1 {
		return "", false
	}
	for _, group := range m[1:] {
		if group != "" {
			return strings.ToUpper(group), true
		}
	}
	return "", false
}

// fencedBody returns the body of the first markdown code fence.
func fencedBody(text string) (string, bool) {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	return "", false
}

// jsonArrays returns every balanced [...] substring that parses as JSON, in
// order of its opening bracket. Brackets inside string literals are ignored.
func jsonArrays(text string) []string {
	var out []string
	for start := strings.IndexByte(text, '['); start >= 0; {
		if end, ok := matchBracket(text, start); ok {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				out = append(out, candidate)
			}
		}
		next := strings.IndexByte(text[start+1:], '[')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return out
}

func matchBracket(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// PlaceholderID marks the degenerate question returned when generation fails.
const PlaceholderID = "placeholder"

// Placeholder returns the single question that stands in for a failed
// generation so callers always receive a non-empty list.
func Placeholder(topic string, difficulty domain.Difficulty) []domain.QuizQuestion {
	if topic == "" {
		topic = "this topic"
	}
	return []domain.QuizQuestion{{
		ID:            PlaceholderID,
		Type:          "placeholder",
		Question:      fmt.Sprintf("Quiz generation for %s is unavailable right now. What would you like to do?", topic),
		Options:       []string{"Try generating the quiz again", "Ask for a concept explanation instead", "Pick a different topic", "Review earlier material"},
		CorrectAnswer: "A",
		Explanation:   "The question generator did not return a usable quiz. Retrying usually helps.",
		Difficulty:    difficulty,
		Concepts:      []string{},
	}}
}

// IsPlaceholder reports whether questions is the generation-failure marker.
func IsPlaceholder(questions []domain.QuizQuestion) bool {
	return len(questions) == 1 && questions[0].ID == PlaceholderID
}
