// Package identity derives deterministic business identities for normalized records.
//
// Identities are independent of the source serial number and serve as a
// cross-run stability signal; they are never used as the storage key.
package identity

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/lawdata-collector/internal/coerce"
	"github.com/JakeFAU/lawdata-collector/internal/collector"
)

// Alias lists for the identity source fields, native spelling first.
var (
	LawKindKeys      = []string{"법령종류코드", "lawTypeCode", "law_kind_code"}
	LawNumberKeys    = []string{"법령번호", "lawNo", "law_number"}
	LawDateKeys      = []string{"공포일자", "promulgationDate", "promulgation_date"}
	LawRevisionKeys  = []string{"개정차수", "revisionNo", "revision_no"}
	CourtCodeKeys    = []string{"법원코드", "courtCode", "court_code"}
	CaseNumberKeys   = []string{"사건번호", "caseNumber", "case_number"}
	JudgmentDateKeys = []string{"선고일자", "judgmentDate", "judgment_date"}
)

// Law returns {KIND}-{number:6}-{promulgated:YYYYMMDD}-{revision:3},
// e.g. LAW-009682-20200305-001.
func Law(payload map[string]any) (string, error) {
	kind := cleanCode(coerce.Pick(payload, LawKindKeys...))
	if kind == "" {
		return "", collector.NewValidationError("law kind code", "required for identity")
	}
	number := coerce.Pick(payload, LawNumberKeys...)
	if number == nil {
		return "", collector.NewValidationError("law number", "required for identity")
	}
	date, err := requiredDate(payload, "promulgation date", LawDateKeys)
	if err != nil {
		return "", err
	}
	revision := ""
	if rv := coerce.Pick(payload, LawRevisionKeys...); rv != nil {
		revision = coerce.Stringify(rv)
	}
	return fmt.Sprintf("%s-%s-%s-%s", kind, zeroPad(coerce.Stringify(number), 6), date, zeroPad(revision, 3)), nil
}

// Precedent returns {COURT}-{caseNumber}-{judged:YYYYMMDD}. The case number is
// kept verbatim apart from surrounding whitespace.
func Precedent(payload map[string]any) (string, error) {
	court := cleanCode(coerce.Pick(payload, CourtCodeKeys...))
	if court == "" {
		return "", collector.NewValidationError("court code", "required for identity")
	}
	rawCase := coerce.Pick(payload, CaseNumberKeys...)
	if rawCase == nil {
		return "", collector.NewValidationError("case number", "required for identity")
	}
	caseNumber := strings.TrimSpace(coerce.Stringify(rawCase))
	date, err := requiredDate(payload, "judgment date", JudgmentDateKeys)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", court, caseNumber, date), nil
}

func requiredDate(payload map[string]any, field string, keys []string) (string, error) {
	d, err := coerce.Date(coerce.Pick(payload, keys...))
	if err != nil {
		return "", collector.NewValidationError(field, err.Error())
	}
	if d == nil {
		return "", collector.NewValidationError(field, "required for identity")
	}
	return d.Format("20060102"), nil
}

// cleanCode upper-cases v and keeps only ASCII letters and digits.
func cleanCode(v any) string {
	if v == nil {
		return ""
	}
	s := strings.ToUpper(coerce.Stringify(v))
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// zeroPad left-pads the digits of s to width; no digits yields all zeros.
func zeroPad(s string, width int) string {
	digits := coerce.Digits(s)
	if len(digits) >= width {
		return digits
	}
	return strings.Repeat("0", width-len(digits)) + digits
}
