// Package upsert builds record rows and runs the insert-then-update write
// shared by the SQL stores.
package upsert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/lawdata-collector/internal/collector"
)

// Table names and their business-key unique constraints.
const (
	LawTable       = "raw_law_data"
	PrecedentTable = "raw_precedent_data"
	RunsTable      = "collection_runs"

	LawIdentityConstraint       = "uq_law_version"
	PrecedentIdentityConstraint = "uq_case_info"
)

const savepoint = "upsert_item"

// Dialect adapts values and placeholders to one SQL driver.
type Dialect struct {
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	Date        func(time.Time) any
	JSON        func([]byte) any
	// Now is the SQL expression for the current timestamp.
	Now         string
}

// Row is one record flattened into columns. Columns[0] is the conflict key.
// collected_at is not a column: the database stamps it.
type Row struct {
	Table   string
	Columns []string
	Values  []any
}

// Key returns the natural key value.
func (r Row) Key() any { return r.Values[0] }

// Build flattens rec into a row stamped with meta.
func Build(d Dialect, rec collector.Record, meta collector.RowMeta) (Row, error) {
	raw, err := json.Marshal(rec.Payload())
	if err != nil {
		return Row{}, collector.NewValidationError("raw_response_json", err.Error())
	}
	var row Row
	switch r := rec.(type) {
	case *collector.LawRecord:
		row = Row{Table: LawTable}
		row.add("law_serial_no", r.SerialNo)
		row.add("identity_key", nullString(r.UUID))
		row.add("law_id", r.LawID)
		row.add("law_name_ko", r.NameKo)
		row.add("law_name_zh", r.NameZh)
		row.add("law_abbreviation", r.Abbreviation)
		row.add("promulgation_no", r.PromulgationNo)
		row.add("promulgation_date", optionalDate(d, r.PromulgationDate))
		row.add("enforce_date", d.Date(r.EnforceDate))
		row.add("is_current", r.IsCurrent)
		row.add("law_category_name", r.CategoryName)
		row.add("ministry_code", r.MinistryCode)
		row.add("ministry_name", r.MinistryName)
		row.add("ministry_contact", r.MinistryContact)
		row.add("revision_type_name", r.RevisionTypeName)
		row.add("is_sub_statute", r.IsSubStatute)
		row.add("basic_info_xml", r.BasicInfoXML)
		row.add("article_xml", r.ArticleXML)
		row.add("supplement_xml", r.SupplementXML)
		row.add("revision_reason_xml", r.RevisionReasonXML)
		row.add("history_xml", r.HistoryXML)
	case *collector.PrecedentRecord:
		row = Row{Table: PrecedentTable}
		row.add("prec_serial_no", r.SerialNo)
		row.add("identity_key", nullString(r.UUID))
		row.add("case_name", r.CaseName)
		row.add("case_number", r.CaseNumber)
		row.add("judgment_date", optionalDate(d, r.JudgmentDate))
		row.add("court_name", r.CourtName)
		row.add("court_code", r.CourtCode)
		row.add("case_type_code", r.CaseTypeCode)
		row.add("case_type_name", r.CaseTypeName)
		row.add("judgment_type_code", r.JudgmentTypeCode)
		row.add("judgment_type_name", r.JudgmentTypeName)
		row.add("judgment_result", r.JudgmentResult)
		row.add("referenced_statutes", r.ReferencedStatutes)
		row.add("referenced_precedents", r.ReferencedPrecedents)
		row.add("summary", r.Summary)
		row.add("conclusion", r.Conclusion)
		row.add("reasoning", r.Reasoning)
		row.add("full_text", r.FullText)
	default:
		return Row{}, fmt.Errorf("unsupported record type %T", rec)
	}
	row.add("collection_id", meta.CollectionID)
	row.add("api_request_url", nullString(meta.RequestURL))
	row.add("raw_response_json", d.JSON(raw))
	return row, nil
}

func (r *Row) add(col string, v any) {
	r.Columns = append(r.Columns, col)
	r.Values = append(r.Values, v)
}

func optionalDate(d Dialect, t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.Date(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Statements holds the two SQL strings of an upsert. Both bind the row values
// in column order.
type Statements struct {
	Insert string
	Update string
}

// StatementsFor renders the insert-do-nothing and update statements for row.
// The insert leaves collected_at to the column default; the update refreshes
// it with d.Now.
func StatementsFor(d Dialect, row Row) Statements {
	placeholders := make([]string, len(row.Columns))
	sets := make([]string, 0, len(row.Columns))
	for i, col := range row.Columns {
		placeholders[i] = d.Placeholder(i + 1)
		if i > 0 {
			sets = append(sets, fmt.Sprintf("%s = %s", col, placeholders[i]))
		}
	}
	sets = append(sets, "collected_at = "+d.Now)
	key := row.Columns[0]
	return Statements{
		Insert: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
			row.Table, strings.Join(row.Columns, ", "), strings.Join(placeholders, ", "), key),
		Update: fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
			row.Table, strings.Join(sets, ", "), key, placeholders[0]),
	}
}

// ExecFunc runs one statement and reports the affected row count.
type ExecFunc func(ctx context.Context, sql string, args ...any) (int64, error)

// Write runs the upsert for row inside a savepoint so a failed item leaves the
// surrounding transaction usable. It reports true when the row was inserted.
//
// isUnique classifies driver errors; a unique violation on the business key
// is returned as collector.ErrIdentityConflict, any other failure as a
// collector.PersistenceError.
func Write(ctx context.Context, exec ExecFunc, d Dialect, row Row, isUnique func(error) bool) (bool, error) {
	if _, err := exec(ctx, "SAVEPOINT "+savepoint); err != nil {
		return false, collector.NewPersistenceError("savepoint", err)
	}
	inserted, err := write(ctx, exec, StatementsFor(d, row), row)
	if err != nil {
		if _, rbErr := exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return false, collector.NewPersistenceError("rollback to savepoint", rbErr)
		}
		if _, relErr := exec(ctx, "RELEASE SAVEPOINT "+savepoint); relErr != nil {
			return false, collector.NewPersistenceError("release savepoint", relErr)
		}
		if isUnique != nil && isUnique(err) {
			return false, fmt.Errorf("%s %v: %w", row.Table, row.Key(), collector.ErrIdentityConflict)
		}
		return false, collector.NewPersistenceError("upsert "+row.Table, err)
	}
	if _, err := exec(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return false, collector.NewPersistenceError("release savepoint", err)
	}
	return inserted, nil
}

func write(ctx context.Context, exec ExecFunc, stmts Statements, row Row) (bool, error) {
	n, err := exec(ctx, stmts.Insert, row.Values...)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := exec(ctx, stmts.Update, row.Values...); err != nil {
		return false, err
	}
	return false, nil
}
