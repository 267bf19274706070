package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/samcharles93/sptune/internal/backbone"
	"github.com/samcharles93/sptune/internal/softprompt"
	"github.com/samcharles93/sptune/internal/tensor"
	"github.com/samcharles93/sptune/internal/tokenizer"
)

type TranslationService struct {
	provider Provider
}

func NewTranslationService(provider Provider) *TranslationService {
	return &TranslationService{provider: provider}
}

// Translate runs one batch through the prompt-tuned model. The returned
// response has no CreatedAt; the server stamps it.
func (s *TranslationService) Translate(ctx context.Context, req *TranslationRequest) (*TranslationResponse, error) {
	if req == nil {
		return nil, newInvalidRequest("request body is required")
	}
	texts := req.Texts
	if strings.TrimSpace(req.Text) != "" {
		texts = append([]string{req.Text}, texts...)
	}
	if len(texts) == 0 && len(req.InputIDs) == 0 {
		return nil, newInvalidRequest("one of text, texts or input_ids is required")
	}
	if len(texts) > 0 && len(req.InputIDs) > 0 {
		return nil, newInvalidRequest("text and input_ids are mutually exclusive")
	}

	var resp *TranslationResponse
	err := s.provider.WithPipeline(ctx, func(p *Pipeline) error {
		rows := req.InputIDs
		if len(texts) > 0 {
			if p.Tokenizer == nil {
				return newInvalidRequest("text input requires a tokenizer; send input_ids instead")
			}
			var err error
			if rows, err = encodeTexts(p.Tokenizer, texts); err != nil {
				return err
			}
		}
		ids, mask, inputTokens, err := padRows(rows, p.PadID)
		if err != nil {
			return err
		}

		out, err := p.Model.Generate(ctx, &backbone.GenerateInputs{
			InputIDs:      ids,
			AttentionMask: mask,
			Options:       mergeOptions(p.Defaults, req),
		})
		if err != nil {
			if isClientError(err) {
				return newInvalidRequest(err.Error())
			}
			return err
		}

		resp = &TranslationResponse{
			ID:      "tr_" + uuid.NewString(),
			Object:  "translation",
			Model:   p.Name,
			Outputs: make([]TranslationChoice, len(out)),
			Usage: TranslationUsage{
				InputTokens:  inputTokens,
				PromptTokens: len(out) * (p.Model.EncoderNTokens() + p.Model.DecoderNTokens()),
			},
		}
		for i, row := range out {
			gen := trimGenerated(row, p.EOSID, p.PadID)
			resp.Usage.OutputTokens += len(gen)
			choice := TranslationChoice{Index: i, TokenIDs: gen}
			if p.Tokenizer != nil {
				text, err := p.Tokenizer.Decode(tokenizer.ToInt(gen))
				if err != nil {
					return fmt.Errorf("decode output %d: %w", i, err)
				}
				choice.Text = text
			}
			resp.Outputs[i] = choice
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Prompts describes the loaded prompt sides.
func (s *TranslationService) Prompts(ctx context.Context) (*PromptsResponse, error) {
	var resp *PromptsResponse
	err := s.provider.WithPipeline(ctx, func(p *Pipeline) error {
		resp = &PromptsResponse{
			Object:  "prompts",
			Model:   p.Name,
			Encoder: describeSide(p.Model.Encoder()),
			Decoder: describeSide(p.Model.Decoder()),
		}
		return nil
	})
	return resp, err
}

func describeSide(s *softprompt.Side) PromptSide {
	params := s.Params()
	return PromptSide{
		NTokens:         s.NTokens(),
		HiddenDim:       s.Table().HiddenDim(),
		EmbeddingDim:    s.Generator().OutputDim(),
		TrainableParams: tensor.NumElements(params),
		Frozen:          tensor.CountTrainable(params) == 0,
	}
}

func encodeTexts(tok tokenizer.Tokenizer, texts []string) ([][]int64, error) {
	rows := make([][]int64, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, newInvalidRequest(fmt.Sprintf("texts[%d] is empty", i))
		}
		ids, err := tok.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("encode texts[%d]: %w", i, err)
		}
		rows[i] = tokenizer.ToInt64(ids)
	}
	return rows, nil
}

// padRows right-pads ragged rows to a rectangle and returns the matching
// attention mask and the number of real tokens.
func padRows(rows [][]int64, pad int64) ([][]int64, [][]int64, int, error) {
	width := 0
	for i, r := range rows {
		if len(r) == 0 {
			return nil, nil, 0, newInvalidRequest(fmt.Sprintf("input_ids[%d] is empty", i))
		}
		width = max(width, len(r))
	}
	ids := make([][]int64, len(rows))
	mask := make([][]int64, len(rows))
	total := 0
	for i, r := range rows {
		ids[i] = make([]int64, width)
		mask[i] = make([]int64, width)
		for j := range width {
			if j < len(r) {
				ids[i][j] = r[j]
				mask[i][j] = 1
				total++
			} else {
				ids[i][j] = pad
			}
		}
	}
	return ids, mask, total, nil
}

// trimGenerated drops the decoder start token and everything from the first
// EOS on, and strips trailing padding from rows that never emitted EOS.
func trimGenerated(row []int64, eos, pad int64) []int64 {
	if len(row) > 0 {
		row = row[1:]
	}
	out := make([]int64, 0, len(row))
	for _, id := range row {
		if id == eos {
			break
		}
		out = append(out, id)
	}
	for len(out) > 0 && out[len(out)-1] == pad {
		out = out[:len(out)-1]
	}
	return out
}

func mergeOptions(defaults backbone.GenerateOptions, req *TranslationRequest) backbone.GenerateOptions {
	opts := defaults
	if req.MaxNewTokens != nil {
		opts.MaxNewTokens = *req.MaxNewTokens
	}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.TopK != nil {
		opts.TopK = *req.TopK
	}
	if req.TopP != nil {
		opts.TopP = *req.TopP
	}
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}
	return opts
}
