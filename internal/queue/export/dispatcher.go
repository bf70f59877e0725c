// internal/queue/export/dispatcher.go

// Package export requests server-rendered export files for the queue's
// current status filter. It is stateless: an export never touches the
// selection or the query state, and its failures are surfaced apart from
// payout failures.
package export

import (
	"context"
	"time"

	"lending-queue/internal/common/logger"
	"lending-queue/internal/directory"
	"lending-queue/internal/models"
)

// File is one rendered export document.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Dispatcher fetches exports through the application directory.
type Dispatcher struct {
	dir directory.Directory
	log logger.Logger
}

func NewDispatcher(dir directory.Directory, log logger.Logger) *Dispatcher {
	return &Dispatcher{dir: dir, log: log}
}

// RequestExport renders the applications under statusFilter as a CSV file.
func (d *Dispatcher) RequestExport(ctx context.Context, statusFilter models.Status) (*File, error) {
	data, err := d.dir.Export(ctx, statusFilter)
	if err != nil {
		d.log.WithError(err).Error("export request failed", map[string]interface{}{
			"statusFilter": statusFilter,
		})
		return nil, err
	}

	name := "loan-applications"
	if statusFilter != "" && statusFilter != models.StatusAll {
		name += "-" + string(statusFilter)
	}
	name += "-" + time.Now().UTC().Format("20060102-150405") + ".csv"

	return &File{
		Name:        name,
		ContentType: "text/csv",
		Data:        data,
	}, nil
}
