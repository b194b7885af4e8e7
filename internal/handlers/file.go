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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tombee/folio/pkg/errors"
)

// Read formats supported by file.read.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatLines = "lines"
	FormatMeta  = "meta"
)

const maxFileBytes = 50 << 20

// fileReader loads a document named by the "path" input or config.path.
// When root is set, paths are resolved under it and may not escape it.
type fileReader struct {
	root string
}

func (f *fileReader) Invoke(ctx context.Context, inputs map[string]interface{}, config map[string]interface{}) (interface{}, error) {
	path, err := f.pathFrom(inputs, config)
	if err != nil {
		return nil, err
	}
	format, err := stringConfig(config, "format", false)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatText
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fileError(path, err)
	}
	if info.IsDir() {
		return nil, errors.Permanentf("%s is a directory", path)
	}
	if info.Size() > maxFileBytes {
		return nil, errors.Permanentf("%s is %d bytes, larger than the %d byte limit", path, info.Size(), maxFileBytes)
	}

	out := map[string]interface{}{
		"path": path,
		"name": filepath.Base(path),
		"ext":  strings.ToLower(filepath.Ext(path)),
		"size": info.Size(),
	}
	if format == FormatMeta {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileError(path, err)
	}

	switch format {
	case FormatText:
		out["content"] = string(data)
	case FormatJSON:
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, &errors.PermanentError{Message: fmt.Sprintf("%s is not valid JSON", path), Cause: err}
		}
		out["content"] = v
	case FormatLines:
		lines := make([]interface{}, 0)
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 64*1024), len(data)+1)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		out["content"] = lines
	default:
		return nil, errors.Permanentf("config.format %q is not one of text, json, lines or meta", format)
	}
	return out, nil
}

func (f *fileReader) pathFrom(inputs, config map[string]interface{}) (string, error) {
	path, err := stringInput(inputs, config, "path")
	if err != nil {
		return "", err
	}
	if f.root == "" {
		return filepath.Clean(path), nil
	}

	root, err := filepath.Abs(f.root)
	if err != nil {
		return "", &errors.PermanentError{Message: "invalid files root", Cause: err}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Permanentf("%s is outside %s", path, root)
	}
	return path, nil
}

// fileError classifies an IO failure. A missing or unreadable file will not
// appear on retry; anything else may be a passing condition.
func fileError(path string, err error) error {
	if os.IsNotExist(err) || os.IsPermission(err) {
		return &errors.PermanentError{Message: fmt.Sprintf("cannot read %s", path), Cause: err}
	}
	return &errors.TransientError{Message: fmt.Sprintf("cannot read %s", path), Cause: err}
}
