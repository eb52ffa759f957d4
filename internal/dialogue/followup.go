package dialogue

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/quiz"
)

// FollowUp is a reference to one question of the active quiz.
type FollowUp struct {
	// Number is 1-based, as the learner writes it.
	Number int
	// Options are the option labels the learner named, uppercased.
	Options []string
}

var questionRefs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\banswer\s+(?:to|for)\s+(?:question\s+)?#?(\d+)\b`),
	regexp.MustCompile(`(?i)\b(?:question|q)\s*#?\s*(\d+)\b`),
}

// Option letters only count when marked, so the article "a" is never read
// as option A.
var optionRefs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:option|choice|not)\s+\(?([a-d])\b`),
	regexp.MustCompile(`(?i)\(([a-d])\)`),
	regexp.MustCompile(`(?i)(?:^|\s)([a-d])\)`),
}

// ParseFollowUp detects "question N", "Q<N>" and "answer to N" references.
func ParseFollowUp(input string) (FollowUp, bool) {
	var ref FollowUp
	found := false
	for _, re := range questionRefs {
		if m := re.FindStringSubmatch(input); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			ref.Number = n
			found = true
			break
		}
	}
	if !found {
		return FollowUp{}, false
	}

	for _, re := range optionRefs {
		for _, m := range re.FindAllStringSubmatch(input, -1) {
			ref.Options = append(ref.Options, strings.ToUpper(m[1]))
		}
	}
	if len(ref.Options) > 0 {
		ref.Options = lo.Uniq(ref.Options)
	}
	return ref, true
}

// RenderFollowUp formats the referenced question with its answer and
// explanation, plus a "why not" line for each other option the learner
// named. Out-of-range numbers get a "no such question" reply.
func RenderFollowUp(qs *domain.QuizSession, ref FollowUp) string {
	prefix := domain.ModeQuizGenerator.Prefix()
	q, ok := qs.QuestionAt(ref.Number - 1)
	if !ok {
		return fmt.Sprintf("%s There is no question %d in this quiz. It has %d questions, so ask about question 1 to %d.",
			prefix, ref.Number, len(qs.Questions), len(qs.Questions))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Question %d: %s\n", prefix, ref.Number, q.Question)
	if q.CodeSnippet != "" {
		fmt.Fprintf(&b, "```\n%s\n```\n", q.CodeSnippet)
	}
	for i, opt := range q.Options {
		if i < len(quiz.OptionLabels) {
			fmt.Fprintf(&b, "%s) %s\n", quiz.OptionLabels[i], opt)
		}
	}
	fmt.Fprintf(&b, "\nCorrect answer: %s\n", optionLine(q, q.CorrectAnswer))
	if q.Explanation != "" {
		fmt.Fprintf(&b, "Explanation: %s\n", q.Explanation)
	}

	for _, label := range ref.Options {
		if label == q.CorrectAnswer {
			continue
		}
		fmt.Fprintf(&b, "Why not %s? %s is not correct; the answer is %s.\n", label, optionLine(q, label), optionLine(q, q.CorrectAnswer))
	}
	return strings.TrimRight(b.String(), "\n")
}

func optionLine(q domain.QuizQuestion, label string) string {
	i := lo.IndexOf(quiz.OptionLabels, label)
	if i < 0 || i >= len(q.Options) {
		return label
	}
	return fmt.Sprintf("%s) %s", label, q.Options[i])
}
