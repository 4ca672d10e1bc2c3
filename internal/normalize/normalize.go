// Package normalize canonicizes raw spreadsheet rows into import
// candidates: phone cell splitting, phone shape checks, name folding for
// caseless comparison, and lenient status parsing. Everything here is
// pure; judgments about missing fields belong to the validator.
package normalize

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/relaycrm/import-cli/internal/model"
)

// minPhoneDigits and maxPhoneDigits bound the minimal phone-shape check.
// Tokens outside the range are dropped with a warning, not failed.
const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

var foldCaser = cases.Fold()

// Row canonicizes one raw row. Phone tokens that fail the shape check are
// dropped and reported as warnings; empty name and region become absent.
func Row(row model.ImportRow) (model.Candidate, []string) {
	var warnings []string

	cand := model.Candidate{
		Name:   strings.TrimSpace(row.Name),
		Region: strings.TrimSpace(row.Region),
		Status: ParseStatus(row.Status),
	}

	seen := make(map[string]struct{})
	for _, tok := range SplitPhones(row.Phone) {
		phone, ok := Phone(tok)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("dropped phone token %q: want %d-%d digits", tok, minPhoneDigits, maxPhoneDigits))
			continue
		}
		if _, dup := seen[phone]; dup {
			continue
		}
		seen[phone] = struct{}{}
		cand.Phones = append(cand.Phones, phone)
	}

	return cand, warnings
}

// SplitPhones splits a raw phone cell on commas, semicolons, slashes, and
// whitespace runs.
func SplitPhones(cell string) []string {
	return strings.FieldsFunc(cell, func(r rune) bool {
		return r == ',' || r == ';' || r == '/' || unicode.IsSpace(r)
	})
}

// Phone normalizes one token to digits plus an optional leading plus and
// checks the digit count. It does no country-code inference.
func Phone(token string) (string, bool) {
	token = strings.TrimSpace(token)

	var b strings.Builder
	plus := strings.HasPrefix(token, "+")
	for _, r := range token {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", false
	}
	if plus {
		return "+" + digits, true
	}
	return digits, true
}

// FoldName prepares a name for caseless comparison: inner whitespace runs
// collapse to single spaces and the result is Unicode case folded, so
// "Ivan  Petrov" and "ivan petrov" compare equal, Cyrillic included.
func FoldName(name string) string {
	collapsed := strings.Join(strings.Fields(name), " ")
	return foldCaser.String(collapsed)
}

// ParseStatus reads a raw status cell. Unrecognized values come back
// empty; the caller decides the fallback.
func ParseStatus(raw string) model.ClientStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(model.ClientStatusNew):
		return model.ClientStatusNew
	case string(model.ClientStatusOld):
		return model.ClientStatusOld
	default:
		return ""
	}
}
