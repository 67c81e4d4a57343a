package appwrite

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/bakaf/pixel/internal/platform"
)

type errorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Type    string `json:"type"`
}

// decodeError turns a non-2xx response into a *platform.Error carrying the
// platform's own message.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body errorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(data))
	}
	if body.Message == "" {
		body.Message = http.StatusText(resp.StatusCode)
	}
	if body.Code == 0 {
		body.Code = resp.StatusCode
	}
	return &platform.Error{Code: body.Code, Type: body.Type, Message: body.Message}
}
