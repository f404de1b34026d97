package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PGDetail is the Postgres side of a storage failure, whichever driver raised it.
type PGDetail struct {
	SQLState   string `json:"sql_state"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

func pgDetail(err error) *PGDetail {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return &PGDetail{
			SQLState:   pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return &PGDetail{
			SQLState:   string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}

// FromStorage turns a raw Postgres error into a typed one so that a constraint
// the engine should have caught still reaches clients as a rejection instead
// of a 500. Typed errors and non-database errors come back unchanged.
//
//	23505 unique_violation         -> CONFLICT
//	23514 check_violation          -> STATE_CONFLICT
//	40001, 40P01, 55P03            -> AGGREGATE_BUSY (retryable)
//	class 08 connection exceptions -> DEPENDENCY_ERROR
func FromStorage(err error) error {
	if err == nil || As(err) != nil {
		return err
	}
	pg := pgDetail(err)
	if pg == nil {
		return err
	}
	details := map[string]any{"constraint": pg.Constraint, "table": pg.Table}

	switch {
	case pg.SQLState == "23505":
		return Wrap(CodeConflict, err, "record already exists").WithDetails(details)
	case pg.SQLState == "23514":
		return Wrap(CodeStateConflict, err, fmt.Sprintf("constraint %s rejected the change", pg.Constraint)).WithDetails(details)
	case pg.SQLState == "40001", pg.SQLState == "40P01", pg.SQLState == "55P03":
		return Wrap(CodeAggregateBusy, err, "concurrent update, retry").WithReason(ReasonConflict)
	case strings.HasPrefix(pg.SQLState, "08"):
		return Wrap(CodeDependency, err, "database unavailable")
	}
	return err
}

// Diagnostics flattens an error chain for structured logs.
type Diagnostics struct {
	Message string    `json:"message"`
	Code    Code      `json:"code,omitempty"`
	Reason  Reason    `json:"reason,omitempty"`
	Chain   []string  `json:"chain,omitempty"`
	PG      *PGDetail `json:"pg,omitempty"`
}

func Diagnose(err error) Diagnostics {
	if err == nil {
		return Diagnostics{}
	}
	d := Diagnostics{Message: err.Error(), Reason: ReasonOf(err), PG: pgDetail(err)}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	return d
}
