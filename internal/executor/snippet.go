package executor

import (
	"regexp"
	"strings"
)

var (
	fencedCode = regexp.MustCompile("(?s)```([a-zA-Z0-9_+#-]*)[ \\t]*\\n(.*?)```")
	inlineCode = regexp.MustCompile("`([^`\\n]{3,})`")
)

// ExtractSnippet pulls a code snippet out of free text: the first fenced
// block, else the first inline `code` span that looks like code.
func ExtractSnippet(input string) (code, language string, ok bool) {
	if m := fencedCode.FindStringSubmatch(input); m != nil {
		code = strings.TrimSpace(m[2])
		if code != "" {
			return code, strings.ToLower(m[1]), true
		}
	}
	if m := inlineCode.FindStringSubmatch(input); m != nil && looksLikeCode(m[1]) {
		return strings.TrimSpace(m[1]), "", true
	}
	return "", "", false
}

func looksLikeCode(s string) bool {
	return strings.ContainsAny(s, "(){};=<>[]")
}

var languageHints = []struct {
	language string
	markers  []string
}{
	{"go", []string{"package main", "func ", ":= ", "fmt."}},
	{"python", []string{"def ", "import ", "print(", "elif ", "self."}},
	{"java", []string{"public class", "System.out", "public static void"}},
	{"c", []string{"#include", "printf("}},
	{"typescript", []string{"interface ", ": string", ": number"}},
	{"javascript", []string{"console.log", "const ", "let ", "function ", "=>"}},
	{"rust", []string{"fn main", "let mut", "println!"}},
}

// GuessLanguage picks a language from code markers, or "" when unsure.
func GuessLanguage(code string) string {
	for _, hint := range languageHints {
		for _, marker := range hint.markers {
			if strings.Contains(code, marker) {
				return hint.language
			}
		}
	}
	return ""
}
