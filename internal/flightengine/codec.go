package flightengine

import (
	"encoding/json"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-volley/internal/engine"
	"github.com/23skdu/longbow-volley/internal/sampling"
)

// Wire schemas for the Flight engine protocol. Requests flow to the server
// via DoPut as one-row records; finished and in-progress outputs flow back
// from DoGet as multi-row records.
var (
	requestSchema = arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String},
		{Name: "prompt", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "token_ids", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32), Nullable: true},
		{Name: "sampling", Type: arrow.BinaryTypes.String},
	}, nil)

	outputSchema = arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String},
		{Name: "prompt", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "prompt_token_ids", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
		{Name: "text", Type: arrow.BinaryTypes.String},
		{Name: "token_ids", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
		{Name: "finish_reason", Type: arrow.BinaryTypes.String},
		{Name: "finished", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)
)

// encodeRequest builds a one-row request record. The caller releases it.
func encodeRequest(mem memory.Allocator, id string, prompt string, cfg sampling.Config, tokenIDs []int) (arrow.Record, error) {
	samplingJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode sampling config: %w", err)
	}

	b := array.NewRecordBuilder(mem, requestSchema)
	defer b.Release()

	b.Field(0).(*array.StringBuilder).Append(id)

	promptBuilder := b.Field(1).(*array.StringBuilder)
	if prompt == "" && tokenIDs != nil {
		promptBuilder.AppendNull()
	} else {
		promptBuilder.Append(prompt)
	}

	appendTokenList(b.Field(2).(*array.ListBuilder), tokenIDs)
	b.Field(3).(*array.StringBuilder).Append(string(samplingJSON))

	return b.NewRecord(), nil
}

// encodeOutputs builds an output record from step results. The caller
// releases it. Servers use this; the client only decodes.
func encodeOutputs(mem memory.Allocator, outputs []*engine.RequestOutput) arrow.Record {
	b := array.NewRecordBuilder(mem, outputSchema)
	defer b.Release()

	for _, out := range outputs {
		b.Field(0).(*array.StringBuilder).Append(out.RequestID)
		if out.Prompt == "" {
			b.Field(1).(*array.StringBuilder).AppendNull()
		} else {
			b.Field(1).(*array.StringBuilder).Append(out.Prompt)
		}
		appendTokenList(b.Field(2).(*array.ListBuilder), out.PromptTokenIDs)
		b.Field(3).(*array.StringBuilder).Append(out.Text)
		appendTokenList(b.Field(4).(*array.ListBuilder), out.TokenIDs)
		b.Field(5).(*array.StringBuilder).Append(out.FinishReason)
		b.Field(6).(*array.BooleanBuilder).Append(out.Finished)
	}

	return b.NewRecord()
}

// decodeOutputs converts an output record back to request outputs.
func decodeOutputs(rec arrow.Record) ([]*engine.RequestOutput, error) {
	if !rec.Schema().Equal(outputSchema) {
		return nil, fmt.Errorf("unexpected output schema: %s", rec.Schema())
	}

	ids := rec.Column(0).(*array.String)
	prompts := rec.Column(1).(*array.String)
	promptTokens := rec.Column(2).(*array.List)
	texts := rec.Column(3).(*array.String)
	tokens := rec.Column(4).(*array.List)
	reasons := rec.Column(5).(*array.String)
	finished := rec.Column(6).(*array.Boolean)

	outs := make([]*engine.RequestOutput, 0, rec.NumRows())
	for row := 0; row < int(rec.NumRows()); row++ {
		out := &engine.RequestOutput{
			RequestID:      ids.Value(row),
			PromptTokenIDs: tokenList(promptTokens, row),
			Text:           texts.Value(row),
			TokenIDs:       tokenList(tokens, row),
			FinishReason:   reasons.Value(row),
			Finished:       finished.Value(row),
		}
		if !prompts.IsNull(row) {
			out.Prompt = prompts.Value(row)
		}
		outs = append(outs, out)
	}
	return outs, nil
}

func appendTokenList(lb *array.ListBuilder, tokenIDs []int) {
	if tokenIDs == nil {
		lb.AppendNull()
		return
	}
	lb.Append(true)
	vb := lb.ValueBuilder().(*array.Int32Builder)
	for _, id := range tokenIDs {
		vb.Append(int32(id))
	}
}

func tokenList(col *array.List, row int) []int {
	if col.IsNull(row) {
		return nil
	}
	start, end := col.ValueOffsets(row)
	values := col.ListValues().(*array.Int32)
	ids := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		ids = append(ids, int(values.Value(int(i))))
	}
	return ids
}
