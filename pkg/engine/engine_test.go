package engine_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/execution"
	"github.com/tombee/folio/pkg/handler"
	"github.com/tombee/folio/pkg/workflow"
)

const qualityWorkflow = `
id: quality
entry: ingest
nodes:
  - id: ingest
    type: input
    handler: load
    inputs:
      document: trigger.document
    next: triage
  - id: triage
    type: decision
    handler: quality
    inputs:
      text: nodes.ingest.text
    decision:
      routes:
        good: enhance
        poor: transcribe
      default: transcribe
  - id: enhance
    type: processing
    handler: enhance
    inputs:
      text: nodes.ingest.text
    next: publish
  - id: transcribe
    type: processing
    handler: transcribe
    inputs:
      text: nodes.ingest.text
    next: publish
  - id: publish
    type: output
    handler: sink
    inputs:
      document: trigger.document
`

func qualityHarness(t *testing.T, label string) *harness {
	h := newHarness(t)
	h.handle("load", workflow.NodeTypeInput, func(ctx context.Context, in, _ map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"text": "faded ink on " + in["document"].(string)}, nil
	})
	h.decide("quality", []string{"good", "poor"}, func(ctx context.Context, in, _ map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"label": label, "confidence": 0.2}, nil
	})
	h.handle("enhance", workflow.NodeTypeProcessing, echo("path", "good"))
	h.handle("transcribe", workflow.NodeTypeProcessing, echo("path", "poor"))
	h.handle("sink", workflow.NodeTypeOutput, echo("stored", true))
	h.workflow(qualityWorkflow)
	return h
}

func TestEngine_DecisionRoutesPoorContent(t *testing.T) {
	h := qualityHarness(t, "Poor")
	status, records := h.run(h.engine(), "quality", map[string]interface{}{"document": "letter-1822.tif"})

	assert.Equal(t, execution.StatusSucceeded, status.Status)
	assert.Empty(t, status.Frontier)
	assert.Equal(t, []string{"ingest", "triage", "transcribe", "publish"}, order(records))
	assert.Equal(t, 1, h.count("transcribe"))
	assert.Equal(t, 0, h.count("enhance"))

	triage := finals(records)["triage"]
	assert.Equal(t, "poor", triage.Label)
	assert.Equal(t, []string{"transcribe"}, triage.Routes)
	assert.Equal(t, map[string]interface{}{"label": "poor"}, triage.Output, "decisions record only their label")

	ingest := finals(records)["ingest"]
	assert.Equal(t, map[string]interface{}{"document": "letter-1822.tif"}, ingest.Inputs)
	assert.NotEmpty(t, ingest.ID)
}

func TestEngine_UnknownLabelFailsRun(t *testing.T) {
	h := qualityHarness(t, "illegible")
	status, records := h.run(h.engine(), "quality", map[string]interface{}{"document": "x.tif"})

	assert.Equal(t, execution.StatusFailed, status.Status)
	require.NotNil(t, status.LastError)
	assert.Equal(t, errors.ClassRouting, status.LastError.Class)
	assert.Equal(t, "triage", status.LastError.NodeID)
	assert.Equal(t, 0, h.count("enhance"))
	assert.Equal(t, 0, h.count("transcribe"))
	assert.Equal(t, 0, h.count("sink"))
	assert.Equal(t, []string{"ingest", "triage"}, order(records))
}

const retryWorkflow = `
id: retry
entry: ingest
nodes:
  - id: ingest
    type: input
    handler: load
    next: ocr
  - id: ocr
    type: integration
    handler: ocr
    retry:
      max_attempts: 3
      initial_delay: 1ms
    next: publish
  - id: publish
    type: output
    handler: sink
    inputs:
      text: nodes.ocr.text
`

func TestEngine_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	h.handle("load", workflow.NodeTypeInput, echo("ok", true))
	var attempts int32
	h.handle("ocr", workflow.NodeTypeIntegration, func(ctx context.Context, _, _ map[string]interface{}) (interface{}, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return nil, errors.Transientf("ocr service busy")
		}
		return map[string]interface{}{"text": "Dear Sir"}, nil
	})
	h.handle("sink", workflow.NodeTypeOutput, echo("stored", true))
	h.workflow(retryWorkflow)

	status, records := h.run(h.engine(), "retry", nil)
	require.Equal(t, execution.StatusSucceeded, status.Status)

	var ocr []execution.Record
	for _, r := range records {
		if r.NodeID == "ocr" {
			ocr = append(ocr, r)
		}
	}
	require.Len(t, ocr, 3)
	for i, r := range ocr[:2] {
		assert.Equal(t, i+1, r.Attempt)
		assert.False(t, r.Final)
		require.NotNil(t, r.Error)
		assert.Equal(t, errors.ClassTransient, r.Error.Class)
	}
	assert.Equal(t, 3, ocr[2].Attempt)
	assert.True(t, ocr[2].Final)
	assert.Nil(t, ocr[2].Error)

	assert.Equal(t, map[string]interface{}{"text": "Dear Sir"}, finals(records)["publish"].Inputs)
}

func TestEngine_NeverRetriesNonIdempotentHandlers(t *testing.T) {
	h := newHarness(t)
	h.handle("load", workflow.NodeTypeInput, echo("ok", true))
	h.register(handler.Descriptor{Name: "ocr", Category: workflow.NodeTypeIntegration, Idempotent: false},
		func(ctx context.Context, _, _ map[string]interface{}) (interface{}, error) {
			return nil, errors.Transientf("ocr service busy")
		})
	h.handle("sink", workflow.NodeTypeOutput, echo("stored", true))
	h.workflow(retryWorkflow)

	status, records := h.run(h.engine(), "retry", nil)
	assert.Equal(t, execution.StatusFailed, status.Status)
	assert.Equal(t, 1, h.count("ocr"))
	assert.Equal(t, 0, h.count("sink"))

	rec := finals(records)["ocr"]
	assert.Equal(t, 1, rec.Attempt)
	require.NotNil(t, rec.Error)
	assert.Equal(t, errors.ClassTransient, rec.Error.Class)
	assert.Equal(t, "ocr", status.LastError.NodeID)
	assert.Equal(t, 1, status.LastError.Attempt)
}

func TestEngine_TimeoutIsTransient(t *testing.T) {
	h := newHarness(t)
	h.handle("load", workflow.NodeTypeInput, echo("ok", true))
	var attempts int32
	h.handle("ocr", workflow.NodeTypeIntegration, func(ctx context.Context, _, _ map[string]interface{}) (interface{}, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return map[string]interface{}{"text": "late"}, nil
	})
	h.handle("sink", workflow.NodeTypeOutput, echo("stored", true))
	h.workflow(`
id: timeout
entry: ingest
nodes:
  - id: ingest
    type: input
    handler: load
    next: ocr
  - id: ocr
    type: integration
    handler: ocr
    timeout: 20ms
    retry:
      max_attempts: 2
      initial_delay: 1ms
    next: publish
  - id: publish
    type: output
    handler: sink
`)

	status, records := h.run(h.engine(), "timeout", nil)
	require.Equal(t, execution.StatusSucceeded, status.Status)
	require.NotNil(t, records[1].Error)
	assert.Equal(t, errors.ClassTransient, records[1].Error.Class)
	assert.Contains(t, records[1].Error.Message, "timed out")
}

func TestEngine_FallbackAfterPermanentFailure(t *testing.T) {
	h := newHarness(t)
	h.handle("load", workflow.NodeTypeInput, echo("ok", true))
	h.handle("ocr", workflow.NodeTypeIntegration, func(ctx context.Context, _, _ map[string]interface{}) (interface{}, error) {
		return nil, errors.Permanentf("unsupported image format")
	})
	h.handle("manual", workflow.NodeTypeProcessing, echo("queued", true))
	h.handle("sink", workflow.NodeTypeOutput, echo("stored", true))
	h.workflow(`
id: fallback
entry: ingest
nodes:
  - id: ingest
    type: input
    handler: load
    next: ocr
  - id: ocr
    type: integration
    handler: ocr
    retry:
      max_attempts: 3
      initial_delay: 1ms
    fallback: manual
    next: publish
  - id: manual
    type: processing
    handler: manual
    next: publish
  - id: publish
    type: output
    handler: sink
`)

	status, records := h.run(h.engine(), "fallback", nil)
	assert.Equal(t, execution.StatusSucceeded, status.Status)
	assert.Equal(t, 1, h.count("ocr"), "permanent errors are not retried")
	assert.Equal(t, []string{"ingest", "ocr", "manual", "publish"}, order(records))

	ocr := finals(records)["ocr"]
	require.NotNil(t, ocr.Error)
	assert.Equal(t, errors.ClassPermanent, ocr.Error.Class)
	assert.Equal(t, []string{"manual"}, ocr.Routes)
}

func TestEngine_HandlerPanicBecomesPermanentError(t *testing.T) {
	h := newHarness(t)
	h.handle("load", workflow.NodeTypeInput, func(ctx context.Context, _, _ map[string]interface{}) (interface{}, error) {
		panic("nil page")
	})
	h.workflow(`
id: panics
entry: ingest
nodes:
  - id: ingest
    type: input
    handler: load
`)

	status, _ := h.run(h.engine(), "panics", nil)
	assert.Equal(t, execution.StatusFailed, status.Status)
	require.NotNil(t, status.LastError)
	assert.Equal(t, errors.ClassPermanent, status.LastError.Class)
	assert.Contains(t, status.LastError.Message, "handler panicked: nil page")
}

func TestEngine_UnknownWorkflow(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine().StartRun(context.Background(), "missing", nil)
	var nf *errors.NotFoundError
	assert.True(t, errors.As(err, &nf))

	h.handle("load", workflow.NodeTypeInput, echo("ok", true))
	h.workflow("id: one\nentry: a\nnodes:\n  - id: a\n    type: input\n    handler: load\n")
	_, err = h.engine().StartRun(context.Background(), "one@2", nil)
	assert.True(t, errors.As(err, &nf))

	status, _ := h.run(h.engine(), "one@1", nil)
	assert.Equal(t, 1, status.Version)
}

func TestEngine_UnboundHandlerIsRejectedBeforeRun(t *testing.T) {
	h := newHarness(t)
	h.workflow("id: unbound\nentry: a\nnodes:\n  - id: a\n    type: input\n    handler: nowhere\n")

	_, err := h.engine().StartRun(context.Background(), "unbound", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere")

	runs, err := h.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs, "no state is created for a run that cannot bind")
}

func TestEngine_Extractions(t *testing.T) {
	h := newHarness(t)
	h.handle("load", workflow.NodeTypeInput, echo("text", "Mr. Darcy, Pemberley, 1813"))
	h.handle("entities", workflow.NodeTypeExtraction, func(ctx context.Context, in, _ map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"people": []string{"Darcy"}, "places": []string{"Pemberley"}}, nil
	})
	h.workflow(`
id: extract
entry: ingest
nodes:
  - id: ingest
    type: input
    handler: load
    next: entities
  - id: entities
    type: extraction
    handler: entities
    inputs:
      text: nodes.ingest.text
`)

	e := h.engine()
	status, _ := h.run(e, "extract", nil)
	got, err := e.Extractions(context.Background(), status.RunID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "entities", got[0].NodeID)
	assert.Equal(t, []interface{}{"Darcy"}, got[0].Output.(map[string]interface{})["people"])
}

func TestEngine_IdempotentReplayYieldsSameOutputs(t *testing.T) {
	h := qualityHarness(t, "good")
	e := h.engine()
	trigger := map[string]interface{}{"document": "page.png"}

	first, firstRecords := h.run(e, "quality", trigger)
	second, secondRecords := h.run(e, "quality", trigger)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Status, second.Status)
	a, b := finals(firstRecords), finals(secondRecords)
	require.Equal(t, len(a), len(b))
	for id, rec := range a {
		assert.Equal(t, rec.Output, b[id].Output, id)
		assert.Equal(t, rec.Inputs, b[id].Inputs, id)
	}
}

func TestEngine_StatusOfUnknownRun(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine().Status(context.Background(), "nope")
	var nf *errors.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestEngine_ConcurrentRuns(t *testing.T) {
	h := qualityHarness(t, "good")
	e := h.engine()
	ctx := context.Background()

	ids := make([]string, 10)
	for i := range ids {
		id, err := e.StartRun(ctx, "quality", map[string]interface{}{"document": fmt.Sprintf("doc-%d", i)})
		require.NoError(t, err)
		ids[i] = id
	}
	for i, id := range ids {
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, err := e.Wait(waitCtx, id)
		cancel()
		require.NoError(t, err)
		assert.Equal(t, execution.StatusSucceeded, status.Status)

		records, err := e.Records(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"document": fmt.Sprintf("doc-%d", i)}, finals(records)["publish"].Inputs)
	}
	assert.Equal(t, 10, h.count("enhance"))
}
