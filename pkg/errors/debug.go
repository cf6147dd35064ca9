package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Report flattens an error chain into loggable fields. When the chain bottoms
// out in a Postgres driver error, the driver diagnostics ride along so a
// failed settlement or migration can be traced to the offending constraint.
type Report struct {
	Message  string          `json:"message"`
	Code     Code            `json:"code,omitempty"`
	Chain    []string        `json:"chain,omitempty"`
	Postgres *PostgresDetail `json:"postgres,omitempty"`
}

// PostgresDetail carries the driver-level diagnostics from pgx or lib/pq.
type PostgresDetail struct {
	Code       string `json:"code,omitempty"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Dump builds a Report for the given error.
func Dump(err error) Report {
	if err == nil {
		return Report{}
	}

	report := Report{Message: err.Error()}
	if typed := As(err); typed != nil {
		report.Code = typed.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		report.Chain = append(report.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	report.Postgres = postgresDetail(err)
	return report
}

func postgresDetail(err error) *PostgresDetail {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &PostgresDetail{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &PostgresDetail{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}
