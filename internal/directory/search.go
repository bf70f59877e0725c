// internal/directory/search.go
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"lending-queue/internal/common/errors"
)

// searchResultLimit caps how many ids one free-text term may pull from the
// index before the database-side filter takes over.
const searchResultLimit = 500

// Search resolves a free-text term to matching application ids through the
// Elasticsearch index the lending platform already maintains.
type Search struct {
	client *elasticsearch.Client
	index  string
}

func NewSearch(client *elasticsearch.Client, index string) *Search {
	return &Search{client: client, index: index}
}

// MatchingIDs queries the index for applications whose applicant name,
// application number, mobile or email match term.
func (s *Search) MatchingIDs(ctx context.Context, term string) ([]string, error) {
	queryBody := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  term,
				"fields": []string{"applicant_name^3", "application_number^2", "mobile", "email"},
				"type":   "best_fields",
			},
		},
		"_source": false,
	}

	body, _ := json.Marshal(queryBody)
	size := searchResultLimit

	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  strings.NewReader(string(body)),
		Size:  &size,
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, errors.NewSearchQueryFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.NewSearchQueryFailedError(fmt.Errorf("search returned %s", res.Status()))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, errors.NewSearchQueryFailedError(err)
	}

	ids := make([]string, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}
