package appwrite

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/bakaf/pixel/internal/platform"
)

// Databases implements platform.DocumentService over the /databases routes.
type Databases struct {
	c *Client
}

const documentsRoute = "/databases/{databaseId}/collections/{collectionId}/documents"

func documentsPath(databaseID, collectionID string) string {
	return "/databases/" + url.PathEscape(databaseID) + "/collections/" + url.PathEscape(collectionID) + "/documents"
}

type documentListJSON struct {
	Total     int              `json:"total"`
	Documents []map[string]any `json:"documents"`
}

// documentFromJSON splits the platform's $-prefixed system attributes from the
// user attributes.
func documentFromJSON(raw map[string]any) platform.Document {
	doc := platform.Document{Data: make(map[string]any, len(raw))}
	for k, v := range raw {
		if !strings.HasPrefix(k, "$") {
			doc.Data[k] = v
			continue
		}
		s, _ := v.(string)
		switch k {
		case "$id":
			doc.ID = s
		case "$databaseId":
			doc.DatabaseID = s
		case "$collectionId":
			doc.CollectionID = s
		case "$createdAt":
			doc.CreatedAt = parseTime(s)
		case "$updatedAt":
			doc.UpdatedAt = parseTime(s)
		}
	}
	return doc
}

// CreateDocument stores data as a new document.
func (d *Databases) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any) (platform.Document, error) {
	body, err := jsonBody(map[string]any{"documentId": documentID, "data": data})
	if err != nil {
		return platform.Document{}, err
	}

	var out map[string]any
	req := request{method: http.MethodPost, route: documentsRoute, path: documentsPath(databaseID, collectionID), body: body}
	if err := d.c.do(ctx, req, &out); err != nil {
		return platform.Document{}, err
	}
	return documentFromJSON(out), nil
}

// ListDocuments lists documents matching queries, each sent as a queries[] JSON
// string.
func (d *Databases) ListDocuments(ctx context.Context, databaseID, collectionID string, queries ...platform.Query) (platform.DocumentList, error) {
	params := url.Values{}
	for _, q := range queries {
		params.Add("queries[]", q.String())
	}

	var out documentListJSON
	req := request{method: http.MethodGet, route: documentsRoute, path: documentsPath(databaseID, collectionID), query: params}
	if err := d.c.do(ctx, req, &out); err != nil {
		return platform.DocumentList{}, err
	}

	list := platform.DocumentList{Total: out.Total, Documents: make([]platform.Document, 0, len(out.Documents))}
	for _, raw := range out.Documents {
		list.Documents = append(list.Documents, documentFromJSON(raw))
	}
	return list, nil
}

var _ platform.DocumentService = (*Databases)(nil)
