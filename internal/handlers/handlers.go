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

// Package handlers provides the built-in node handlers: trigger input and
// file reading, passthrough and jq processing, rule-based classifiers for
// decision nodes, jq extraction, HTTP integration and a JSONL output sink.
//
// Real document work such as OCR or translation is expected to run behind
// the HTTP integration handlers or in handlers registered by embedders.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/tombee/folio/internal/config"
	"github.com/tombee/folio/internal/jq"
	"github.com/tombee/folio/pkg/handler"
	"github.com/tombee/folio/pkg/httpclient"
	"github.com/tombee/folio/pkg/workflow"
	"github.com/tombee/folio/pkg/workflow/expression"
)

// Built-in handler names.
const (
	TriggerInput = "input.trigger"
	FileRead     = "file.read"
	Passthrough  = "passthrough"
	JQ           = "jq"
	ExtractJQ    = "extract.jq"
	HTTPGet      = "http.get"
	HTTPPost     = "http.post"
	SinkJSONL    = "sink.jsonl"

	ClassifyQuality  = "classify.quality"
	ClassifyDocument = "classify.document"
)

// Register adds every built-in handler to reg.
func Register(reg *handler.Registry, cfg config.HandlersConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := httpclient.DefaultConfig()
	if cfg.HTTP.Timeout > 0 {
		clientCfg.Timeout = cfg.HTTP.Timeout
	}
	clientCfg.RateLimit = cfg.HTTP.RateLimit
	clientCfg.Burst = cfg.HTTP.Burst
	clientCfg.AllowedHosts = cfg.HTTP.AllowedHosts
	clientCfg.Logger = logger.With(slog.String("component", "http"))
	client, err := httpclient.New(clientCfg)
	if err != nil {
		return err
	}

	executor := jq.NewExecutor(0, 0)
	eval := expression.New()

	entries := []struct {
		desc handler.Descriptor
		h    handler.Handler
	}{
		{
			desc: handler.Descriptor{
				Name:        TriggerInput,
				Category:    workflow.NodeTypeInput,
				Idempotent:  true,
				Description: "Returns its resolved inputs; used to bring trigger fields into the graph",
			},
			h: handler.Func(passthrough),
		},
		{
			desc: handler.Descriptor{
				Name:        FileRead,
				Category:    workflow.NodeTypeInput,
				Idempotent:  true,
				Description: "Reads a document from disk as text, JSON or lines",
			},
			h: &fileReader{root: cfg.Files.Root},
		},
		{
			desc: handler.Descriptor{
				Name:        Passthrough,
				Category:    workflow.NodeTypeProcessing,
				Idempotent:  true,
				Description: "Returns its resolved inputs unchanged",
			},
			h: handler.Func(passthrough),
		},
		{
			desc: handler.Descriptor{
				Name:        JQ,
				Category:    workflow.NodeTypeProcessing,
				Idempotent:  true,
				Description: "Transforms its inputs with a jq program",
			},
			h: &transform{executor: executor},
		},
		{
			desc: handler.Descriptor{
				Name:        ExtractJQ,
				Category:    workflow.NodeTypeExtraction,
				Idempotent:  true,
				Description: "Extracts structured fields with a jq program",
			},
			h: &transform{executor: executor},
		},
		{
			desc: handler.Descriptor{
				Name:        ClassifyQuality,
				Category:    workflow.NodeTypeDecision,
				Idempotent:  true,
				Labels:      QualityLabels,
				Description: "Classifies scan quality with expression rules",
			},
			h: &classifier{eval: eval, labels: QualityLabels},
		},
		{
			desc: handler.Descriptor{
				Name:        ClassifyDocument,
				Category:    workflow.NodeTypeDecision,
				Idempotent:  true,
				Labels:      DocumentLabels,
				Description: "Picks the processing workflow for a document with expression rules",
			},
			h: &classifier{eval: eval, labels: DocumentLabels},
		},
		{
			desc: handler.Descriptor{
				Name:        HTTPGet,
				Category:    workflow.NodeTypeIntegration,
				Idempotent:  true,
				Description: "Calls an HTTP service with GET",
			},
			h: &httpCall{client: client, method: http.MethodGet},
		},
		{
			desc: handler.Descriptor{
				Name:        HTTPPost,
				Category:    workflow.NodeTypeIntegration,
				Description: "Calls an HTTP service with POST and a JSON body",
			},
			h: &httpCall{client: client, method: http.MethodPost},
		},
		{
			desc: handler.Descriptor{
				Name:        SinkJSONL,
				Category:    workflow.NodeTypeOutput,
				Description: "Appends its inputs to a JSONL file per workflow",
			},
			h: newSink(cfg.Sink.Dir),
		},
	}

	for _, e := range entries {
		if err := reg.Register(e.desc, e.h); err != nil {
			return err
		}
	}
	return nil
}
