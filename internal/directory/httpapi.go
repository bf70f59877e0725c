// internal/directory/httpapi.go
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	commonhttp "lending-queue/internal/common/http"

	"lending-queue/internal/common/errors"
	"lending-queue/internal/common/logger"
	"lending-queue/internal/common/metrics"
	"lending-queue/internal/models"
	"lending-queue/internal/queue/payout"
	"lending-queue/internal/queue/querystate"
)

// envelope is the admin API's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// HTTPDirectory speaks the lending platform's admin REST API.
type HTTPDirectory struct {
	baseURL string
	apiKey  string
	client  *commonhttp.Client
	log     logger.Logger
}

func NewHTTPDirectory(baseURL, apiKey string, timeout time.Duration, log logger.Logger) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  commonhttp.NewClient(timeout),
		log:     log.WithFields(map[string]interface{}{"backend": "http"}),
	}
}

func (d *HTTPDirectory) List(ctx context.Context, query querystate.QueryState) (*ListResult, error) {
	start := time.Now()

	params := url.Values{}
	params.Set("page", strconv.Itoa(query.Page))
	params.Set("pageSize", strconv.Itoa(query.PageSize))
	if query.StatusFilter != "" && query.StatusFilter != models.StatusAll {
		params.Set("status", string(query.StatusFilter))
	}
	if query.SearchTerm != "" {
		params.Set("search", query.SearchTerm)
	}
	params.Set("sortField", query.SortField)
	params.Set("sortOrder", string(query.SortOrder))

	var result ListResult
	err := d.doJSON(ctx, http.MethodGet, "/admin/applications?"+params.Encode(), nil, &result)
	if err != nil {
		return nil, errors.NewListQueryFailedError(err)
	}

	metrics.ListQueryDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
	return &result, nil
}

func (d *HTTPDirectory) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	body := map[string]string{"status": string(status)}
	err := d.doJSON(ctx, http.MethodPatch, "/admin/applications/"+url.PathEscape(id)+"/status", body, nil)
	if err != nil {
		return errors.NewStatusUpdateFailedError(id, err)
	}
	return nil
}

func (d *HTTPDirectory) Disburse(ctx context.Context, id string) (payout.Receipt, error) {
	var receipt payout.Receipt
	err := d.doJSON(ctx, http.MethodPost, "/admin/applications/"+url.PathEscape(id)+"/disburse", nil, &receipt)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return payout.Receipt{}, errors.NewDisbursementTimeoutError(id)
		}
		return payout.Receipt{}, errors.NewDisbursementFailedError(id, err.Error())
	}
	return receipt, nil
}

func (d *HTTPDirectory) Export(ctx context.Context, status models.Status) ([]byte, error) {
	params := url.Values{}
	if status != "" && status != models.StatusAll {
		params.Set("status", string(status))
	}

	req, err := http.NewRequest(http.MethodGet, d.baseURL+"/admin/applications/export?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.NewExportFailedError(err)
	}
	d.authorize(req)

	resp, err := d.client.DoWithContext(ctx, req)
	if err != nil {
		metrics.ExportFailures.Inc()
		return nil, errors.NewExportFailedError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ExportFailures.Inc()
		return nil, errors.NewExportFailedError(fmt.Errorf("export returned %s", resp.Status))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ExportFailures.Inc()
		return nil, errors.NewExportFailedError(err)
	}
	return data, nil
}

func (d *HTTPDirectory) Stats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	if err := d.doJSON(ctx, http.MethodGet, "/admin/applications/stats", nil, &stats); err != nil {
		return nil, errors.NewStatsQueryFailedError(err)
	}
	return &stats, nil
}

// doJSON issues one request and decodes the API envelope. A non-success
// envelope becomes an error carrying the server's message.
func (d *HTTPDirectory) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, d.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	d.authorize(req)

	resp, err := d.client.DoWithContext(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		if env.Message != "" {
			return fmt.Errorf("%s", env.Message)
		}
		return fmt.Errorf("request failed with %s", resp.Status)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

func (d *HTTPDirectory) authorize(req *http.Request) {
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}
}
