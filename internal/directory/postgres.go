// internal/directory/postgres.go
package directory

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"lending-queue/internal/common/errors"
	"lending-queue/internal/common/logger"
	"lending-queue/internal/common/metrics"
	"lending-queue/internal/models"
	"lending-queue/internal/queue/payout"
	"lending-queue/internal/queue/querystate"
)

// sortColumns whitelists the ORDER BY targets; anything else falls back to
// created_at.
var sortColumns = map[string]string{
	"created_at":         "created_at",
	"updated_at":         "updated_at",
	"loan_amount":        "loan_amount_paise",
	"applicant_name":     "applicant_name",
	"application_number": "application_number",
	"status":             "status",
}

const applicationColumns = "id, application_number, status, loan_amount_paise, applicant_name, mobile, email, extension_status, assignment_type, created_at, updated_at"

// PostgresDirectory serves the queue straight from the lending database.
type PostgresDirectory struct {
	db     *sql.DB
	search *Search // optional free-text index
	log    logger.Logger
}

// NewPostgresDirectory creates the database-backed directory. search may be
// nil; free-text queries then use ILIKE.
func NewPostgresDirectory(db *sql.DB, search *Search, log logger.Logger) *PostgresDirectory {
	return &PostgresDirectory{
		db:     db,
		search: search,
		log:    log.WithFields(map[string]interface{}{"backend": "postgres"}),
	}
}

func (d *PostgresDirectory) List(ctx context.Context, query querystate.QueryState) (*ListResult, error) {
	start := time.Now()

	where, args, err := d.buildFilter(ctx, query.StatusFilter, query.SearchTerm)
	if err != nil {
		return nil, err
	}

	var total int
	countSQL := "SELECT COUNT(*) FROM loan_applications" + where
	if err := d.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, errors.NewListQueryFailedError(err)
	}

	column, ok := sortColumns[query.SortField]
	if !ok {
		column = "created_at"
	}
	direction := "ASC"
	if query.SortOrder == querystate.SortDesc {
		direction = "DESC"
	}

	offset := (query.Page - 1) * query.PageSize
	listSQL := fmt.Sprintf(
		"SELECT %s FROM loan_applications%s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		applicationColumns, where, column, direction, len(args)+1, len(args)+2,
	)
	listArgs := append(args, query.PageSize, offset)

	rows, err := d.db.QueryContext(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, errors.NewListQueryFailedError(err)
	}
	defer rows.Close()

	applications, err := scanApplications(rows)
	if err != nil {
		return nil, errors.NewListQueryFailedError(err)
	}

	metrics.ListQueryDuration.WithLabelValues("postgres").Observe(time.Since(start).Seconds())

	totalPages := (total + query.PageSize - 1) / query.PageSize
	if totalPages == 0 {
		totalPages = 1
	}

	return &ListResult{
		Applications: applications,
		Pagination: models.Pagination{
			Page:       query.Page,
			PageSize:   query.PageSize,
			TotalRows:  total,
			TotalPages: totalPages,
		},
	}, nil
}

// buildFilter assembles the WHERE clause shared by List and Export. When a
// search term is set and the Elasticsearch index is available, matching ids
// come from the index; otherwise ILIKE covers name, mobile, email and
// application number.
func (d *PostgresDirectory) buildFilter(ctx context.Context, status models.Status, term string) (string, []interface{}, error) {
	clauses := []string{}
	args := []interface{}{}

	if status != "" && status != models.StatusAll {
		args = append(args, string(status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	if term != "" {
		if d.search != nil {
			ids, err := d.search.MatchingIDs(ctx, term)
			if err != nil {
				// Index trouble degrades to a database-side match.
				d.log.WithError(err).Warn("search index unavailable, falling back to ILIKE", nil)
			} else {
				args = append(args, pq.Array(ids))
				clauses = append(clauses, fmt.Sprintf("id = ANY($%d)", len(args)))
				term = ""
			}
		}
		if term != "" {
			args = append(args, "%"+term+"%")
			n := len(args)
			clauses = append(clauses, fmt.Sprintf(
				"(applicant_name ILIKE $%d OR mobile ILIKE $%d OR email ILIKE $%d OR application_number ILIKE $%d)",
				n, n, n, n))
		}
	}

	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (d *PostgresDirectory) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	if !status.Valid() {
		return errors.NewStatusUpdateFailedError(id, fmt.Errorf("unknown status %q", status))
	}

	res, err := d.db.ExecContext(ctx,
		"UPDATE loan_applications SET status = $1, updated_at = NOW() WHERE id = $2",
		string(status), id)
	if err != nil {
		return errors.NewStatusUpdateFailedError(id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewStatusUpdateFailedError(id, sql.ErrNoRows)
	}
	return nil
}

// Disburse transitions an application into disbursal. The status guard in
// the UPDATE re-checks eligibility at the row level, so a stale id fails
// here rather than paying out twice.
func (d *PostgresDirectory) Disburse(ctx context.Context, id string) (payout.Receipt, error) {
	transferID := "TXN-" + uuid.NewString()

	res, err := d.db.ExecContext(ctx, `
		UPDATE loan_applications
		SET status = CASE WHEN status = $1 THEN $2 ELSE $3 END,
		    transfer_id = $4,
		    updated_at = NOW()
		WHERE id = $5 AND status IN ($1, $6)`,
		string(models.StatusReadyForDisbursement),
		string(models.StatusDisbursal),
		string(models.StatusRepeatDisbursal),
		transferID,
		id,
		string(models.StatusReadyToRepeatDisbursal),
	)
	if err != nil {
		return payout.Receipt{}, errors.NewDisbursementFailedError(id, err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return payout.Receipt{}, errors.NewDisbursementFailedError(id, "application is not ready for disbursement")
	}
	return payout.Receipt{TransferID: transferID}, nil
}

func (d *PostgresDirectory) Export(ctx context.Context, status models.Status) ([]byte, error) {
	where, args, err := d.buildFilter(ctx, status, "")
	if err != nil {
		return nil, errors.NewExportFailedError(err)
	}

	exportSQL := fmt.Sprintf(
		"SELECT %s FROM loan_applications%s ORDER BY created_at DESC",
		applicationColumns, where,
	)
	rows, err := d.db.QueryContext(ctx, exportSQL, args...)
	if err != nil {
		metrics.ExportFailures.Inc()
		return nil, errors.NewExportFailedError(err)
	}
	defer rows.Close()

	applications, err := scanApplications(rows)
	if err != nil {
		metrics.ExportFailures.Inc()
		return nil, errors.NewExportFailedError(err)
	}

	return renderCSV(applications)
}

func (d *PostgresDirectory) Stats(ctx context.Context) (*models.Stats, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM loan_applications GROUP BY status")
	if err != nil {
		return nil, errors.NewStatsQueryFailedError(err)
	}
	defer rows.Close()

	stats := &models.Stats{CountsByStatus: make(map[models.Status]int)}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.NewStatsQueryFailedError(err)
		}
		stats.CountsByStatus[models.Status(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStatsQueryFailedError(err)
	}
	return stats, nil
}

func scanApplications(rows *sql.Rows) ([]models.LoanApplication, error) {
	applications := []models.LoanApplication{}
	for rows.Next() {
		var app models.LoanApplication
		var assignment sql.NullString
		err := rows.Scan(
			&app.ID, &app.ApplicationNumber, &app.Status, &app.LoanAmountPaise,
			&app.ApplicantName, &app.Mobile, &app.Email, &app.ExtensionStatus,
			&assignment, &app.CreatedAt, &app.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if assignment.Valid {
			app.AssignmentType = models.AssignmentType(assignment.String)
		}
		applications = append(applications, app)
	}
	return applications, rows.Err()
}

func renderCSV(applications []models.LoanApplication) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"Application Number", "Applicant Name", "Mobile", "Email",
		"Loan Amount (INR)", "Status", "Extension", "Created At",
	}
	if err := w.Write(header); err != nil {
		return nil, errors.NewExportFailedError(err)
	}

	for _, app := range applications {
		record := []string{
			app.ApplicationNumber,
			app.ApplicantName,
			app.Mobile,
			app.Email,
			strconv.FormatFloat(float64(app.LoanAmountPaise)/100, 'f', 2, 64),
			string(app.Status),
			string(app.ExtensionStatus),
			app.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, errors.NewExportFailedError(err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.NewExportFailedError(err)
	}
	return buf.Bytes(), nil
}
