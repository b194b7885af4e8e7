// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/httpclient"
)

const maxResponseBytes = 10 << 20

// httpCall sends the node's inputs to an HTTP service.
//
// The target comes from the "url" input or config.url. Optional
// config.headers are added to the request. For POST the "body" input is
// sent as JSON, or every input when there is no "body" slot. The output is
// {status, headers, body}; a JSON response body is decoded.
type httpCall struct {
	client *http.Client
	method string
}

func (h *httpCall) Invoke(ctx context.Context, inputs map[string]interface{}, config map[string]interface{}) (interface{}, error) {
	target, err := stringInput(inputs, config, "url")
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if h.method != http.MethodGet {
		payload, ok := inputs["body"]
		if !ok {
			payload = withoutKey(inputs, "url")
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, &errors.PermanentError{Message: "request body is not JSON-serializable", Cause: err}
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, h.method, target, body)
	if err != nil {
		return nil, &errors.PermanentError{Message: "invalid request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if raw, ok := config["headers"].(map[string]interface{}); ok {
		for k, v := range raw {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, httpclient.ClassifyError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, httpclient.ClassifyError(err)
	}
	if err := httpclient.ClassifyStatus(h.method, req.URL.Redacted(), resp.StatusCode); err != nil {
		return nil, err
	}
	if len(data) > maxResponseBytes {
		return nil, errors.Permanentf("response body exceeds %d bytes", maxResponseBytes)
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return map[string]interface{}{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    decodeBody(resp.Header.Get("Content-Type"), data),
	}, nil
}

// decodeBody decodes JSON responses and returns anything else as text.
func decodeBody(contentType string, data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
		var v interface{}
		if err := json.Unmarshal(data, &v); err == nil {
			return v
		}
	}
	return string(data)
}

func withoutKey(m map[string]interface{}, key string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if k != key {
			out[k] = v
		}
	}
	return out
}
