package policy

import (
	"strings"
	"unicode/utf8"
)

// Stabilizer turns successive, possibly revised hypotheses into an append-only transcript.
type Stabilizer interface {
	// Update returns the newly confirmed text. ok is false when the hypothesis
	// contradicted already confirmed text and was ignored.
	Update(hypothesis string) (delta string, ok bool)
	// Finalize returns the terminal delta for a closed span and resets the state.
	Finalize(final string) string
	Confirmed() string
	Reset()
}

// LongestCommonPrefix compares a and b code point by code point, exactly.
func LongestCommonPrefix(a, b string) string {
	i := 0
	for i < len(a) && i < len(b) {
		ra, na := utf8.DecodeRuneInString(a[i:])
		rb, nb := utf8.DecodeRuneInString(b[i:])
		if ra != rb || na != nb || a[i:i+na] != b[i:i+nb] {
			break
		}
		i += na
	}
	return a[:i]
}

// localAgreement confirms text once two consecutive hypotheses agree on it.
type localAgreement struct {
	previous  string
	confirmed string
}

func NewLocalAgreement() Stabilizer {
	return &localAgreement{}
}

func (l *localAgreement) Update(hypothesis string) (string, bool) {
	if !strings.HasPrefix(hypothesis, l.confirmed) {
		return "", false
	}
	common := LongestCommonPrefix(l.previous, hypothesis)
	if len(common) < len(l.confirmed) {
		common = l.confirmed
	}
	delta := common[len(l.confirmed):]
	l.confirmed = common
	l.previous = hypothesis
	return delta, true
}

func (l *localAgreement) Finalize(final string) string {
	var delta string
	if strings.HasPrefix(final, l.confirmed) {
		delta = final[len(l.confirmed):]
	} else {
		delta = final[len(LongestCommonPrefix(l.confirmed, final)):]
	}
	l.Reset()
	return delta
}

func (l *localAgreement) Confirmed() string { return l.confirmed }

func (l *localAgreement) Reset() {
	l.previous = ""
	l.confirmed = ""
}

// finalOnly confirms nothing until the span closes.
type finalOnly struct{}

func NewFinalOnly() Stabilizer { return finalOnly{} }

func (finalOnly) Update(string) (string, bool) { return "", true }
func (finalOnly) Finalize(final string) string { return final }
func (finalOnly) Confirmed() string            { return "" }
func (finalOnly) Reset()                       {}
