// Package normalize turns merged list/detail payloads into typed records.
package normalize

import (
	"time"

	"github.com/JakeFAU/lawdata-collector/internal/coerce"
	"github.com/JakeFAU/lawdata-collector/internal/collector"
	"github.com/JakeFAU/lawdata-collector/internal/identity"
)

// Alias lists for fields that also drive detail fetches.
var (
	LawSerialKeys       = []string{"법령일련번호", "lawSerialNo", "law_serial_no"}
	LawIDKeys           = []string{"법령ID", "lawId", "law_id"}
	PrecedentSerialKeys = []string{"판례일련번호", "precSerialNo", "prec_serial_no"}
)

// Merge copies list and overlays every detail field on top of it.
func Merge(list, detail map[string]any) map[string]any {
	merged := make(map[string]any, len(list)+len(detail))
	for k, v := range list {
		merged[k] = v
	}
	for k, v := range detail {
		merged[k] = v
	}
	return merged
}

// Law normalizes a statute payload. detail may be nil.
func Law(list, detail map[string]any) (*collector.LawRecord, error) {
	m := Merge(list, detail)
	f := fields{m: m}

	serial := coerce.Int(coerce.Pick(m, LawSerialKeys...))
	if serial == nil {
		return nil, collector.NewValidationError("law_serial_no", "missing or not an integer")
	}
	name := f.str("법령명한글", "lawName", "law_name_ko")
	if name == nil {
		return nil, collector.NewValidationError("law_name_ko", "missing")
	}
	enforce, err := f.date("enforce_date", "시행일자", "enforceDate", "enforce_date")
	if err != nil {
		return nil, err
	}
	if enforce == nil {
		return nil, collector.NewValidationError("enforce_date", "missing")
	}
	promulgated, err := f.date("promulgation_date", identity.LawDateKeys...)
	if err != nil {
		return nil, err
	}

	rec := &collector.LawRecord{
		SerialNo:          *serial,
		LawID:             f.str(LawIDKeys...),
		NameKo:            *name,
		NameZh:            f.str("법령명한자", "lawNameZh"),
		Abbreviation:      f.str("법령약칭명", "lawAbbreviation"),
		PromulgationNo:    coerce.Int(coerce.Pick(m, "공포번호", "promulgationNo", "promulgation_no")),
		PromulgationDate:  promulgated,
		EnforceDate:       *enforce,
		IsCurrent:         f.str("현행연혁구분코드", "isCurrent"),
		CategoryName:      f.str("법령구분명", "lawCategoryName"),
		MinistryCode:      f.str("소관부처코드", "ministryCode"),
		MinistryName:      f.str("소관부처명", "ministryName"),
		MinistryContact:   f.str("소관부처연락처", "ministryContact"),
		RevisionTypeName:  f.str("제개정구분명", "revisionTypeName"),
		IsSubStatute:      f.str("자법타법구분", "isSubStatute"),
		BasicInfoXML:      f.str("기본정보", "basicInfo"),
		ArticleXML:        f.str("조문", "article"),
		SupplementXML:     f.str("부칙", "supplement"),
		RevisionReasonXML: f.str("제개정이유", "revisionReason"),
		HistoryXML:        f.str("연혁", "history"),
		RawPayload:        m,
	}
	// Identity is best effort; a record without one is still stored.
	if id, err := identity.Law(m); err == nil {
		rec.UUID = id
	}
	return rec, nil
}

// Precedent normalizes a court decision payload. detail may be nil.
func Precedent(list, detail map[string]any) (*collector.PrecedentRecord, error) {
	m := Merge(list, detail)
	f := fields{m: m}

	serial := coerce.Int(coerce.Pick(m, PrecedentSerialKeys...))
	if serial == nil {
		return nil, collector.NewValidationError("prec_serial_no", "missing or not an integer")
	}
	caseNumber := f.str(identity.CaseNumberKeys...)
	if caseNumber == nil {
		return nil, collector.NewValidationError("case_number", "missing")
	}
	judged, err := f.date("judgment_date", identity.JudgmentDateKeys...)
	if err != nil {
		return nil, err
	}

	rec := &collector.PrecedentRecord{
		SerialNo:             *serial,
		CaseName:             f.str("사건명", "caseName"),
		CaseNumber:           *caseNumber,
		JudgmentDate:         judged,
		CourtName:            f.str("법원명", "courtName"),
		CourtCode:            f.str(identity.CourtCodeKeys...),
		CaseTypeCode:         f.str("사건종류코드", "caseTypeCode"),
		CaseTypeName:         f.str("사건종류명", "caseTypeName"),
		JudgmentTypeCode:     f.str("판결유형코드", "judgmentTypeCode"),
		JudgmentTypeName:     f.str("판결유형명", "judgmentTypeName"),
		JudgmentResult:       f.str("판결결과", "judgmentResult"),
		ReferencedStatutes:   f.str("참조법령", "referencedStatutes"),
		ReferencedPrecedents: f.str("참조판례", "referencedPrecedents"),
		Summary:              f.str("판시사항", "summary"),
		Conclusion:           f.str("판결요지", "conclusion"),
		Reasoning:            f.str("판례내용", "reasoning"),
		FullText:             f.str("전체판례", "fullText"),
		RawPayload:           m,
	}
	if id, err := identity.Precedent(m); err == nil {
		rec.UUID = id
	}
	return rec, nil
}

type fields struct {
	m map[string]any
}

func (f fields) str(keys ...string) *string {
	return coerce.String(coerce.Pick(f.m, keys...))
}

func (f fields) date(field string, keys ...string) (*time.Time, error) {
	d, err := coerce.Date(coerce.Pick(f.m, keys...))
	if err != nil {
		return nil, collector.NewValidationError(field, err.Error())
	}
	return d, nil
}
