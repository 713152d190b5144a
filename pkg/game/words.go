package game

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Letters that never count as the final letter of a city name; the
// chain continues from the previous letter instead.
var skipLast = map[rune]struct{}{
	'ь': {},
	'ъ': {},
	'ы': {},
	'й': {},
}

// Normalize lowercases a city name, collapses internal whitespace and
// folds ё into е so spelling variants compare equal.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "ё", "е")
}

// LastLetter returns the letter the next city must start with, or 0
// when the word contains no usable letter.
func LastLetter(word string) rune {
	runes := []rune(Normalize(word))
	for i := len(runes) - 1; i >= 0; i-- {
		ch := runes[i]
		if !unicode.IsLetter(ch) {
			continue
		}
		if _, skip := skipLast[ch]; skip {
			continue
		}
		return ch
	}
	return 0
}

// Words is the immutable set of accepted city names, loaded once at
// startup.
type Words struct {
	set map[string]struct{}
}

// LoadWords reads one city name per line (UTF-8), normalizing each.
func LoadWords(path string) (*Words, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open word list %s: %w", path, err)
	}
	defer f.Close()

	set := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		word := Normalize(scanner.Text())
		if word == "" {
			continue
		}
		set[word] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read word list %s: %w", path, err)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("word list %s is empty", path)
	}

	return &Words{set: set}, nil
}

// NewWords builds a set from literals; used by tests.
func NewWords(words ...string) *Words {
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		if normalized := Normalize(word); normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return &Words{set: set}
}

// Contains reports whether the normalized form of word is in the list.
func (w *Words) Contains(word string) bool {
	_, ok := w.set[Normalize(word)]
	return ok
}

// Len returns the number of distinct city names.
func (w *Words) Len() int {
	return len(w.set)
}
