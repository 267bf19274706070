// Package softprompt adapts a frozen encoder-decoder backbone for soft-prompt
// tuning. Each side (encoder, decoder) owns a small table of learnable
// vectors. A feed-forward generator projects them into the backbone
// embedding space, and the result is prepended to the real token
// embeddings, with attention masks and labels widened to match.
package softprompt

import (
	"context"
	"math/rand"

	"github.com/dustin/go-humanize"

	"github.com/samcharles93/sptune/internal/backbone"
	"github.com/samcharles93/sptune/internal/logger"
	"github.com/samcharles93/sptune/internal/safetensors"
	"github.com/samcharles93/sptune/internal/tensor"
)

// SideConfig configures one side. When PromptPath is set the saved table is
// loaded and its row count overrides NTokens; otherwise NTokens and
// HiddenDim are both required.
type SideConfig struct {
	NTokens    int    `yaml:"n_tokens"`
	HiddenDim  int    `yaml:"hidden_dim"`
	PromptPath string `yaml:"prompt_path"`
}

type Config struct {
	Encoder SideConfig
	Decoder SideConfig
	// RandomRange bounds uniform table initialization; zero or less
	// selects a standard normal.
	RandomRange float32
	Seed        int64
}

type Option func(*Model)

// WithLogger sets the logger used during construction.
func WithLogger(l logger.Logger) Option {
	return func(m *Model) {
		if l != nil {
			m.log = l
		}
	}
}

// Model wraps a frozen backbone and routes raw token ids through the prompt
// sides before delegating. Forward and Generate never modify model state, so
// a Model may serve concurrent calls as long as nobody updates parameters at
// the same time.
type Model struct {
	bb      backbone.Seq2Seq
	encoder *Side
	decoder *Side

	encoderNTokens int
	decoderNTokens int

	log logger.Logger
}

// Create loads the backbone from source and wraps it.
func Create(ctx context.Context, loader backbone.Loader, source string, cfg Config, opts ...Option) (*Model, error) {
	bb, err := loader.Load(ctx, source)
	if err != nil {
		return nil, &Error{Op: "create", Kind: ErrConfiguration, Msg: "load backbone " + source, Err: err}
	}
	return New(bb, cfg, opts...)
}

// New freezes bb and builds both prompt sides.
func New(bb backbone.Seq2Seq, cfg Config, opts ...Option) (*Model, error) {
	m := &Model{bb: bb, log: logger.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	if bb == nil {
		return nil, configErr("new", "nil backbone")
	}

	frozen := bb.Parameters()
	for _, p := range frozen {
		p.Trainable = false
	}
	m.log.Info("froze backbone",
		"tensors", len(frozen),
		"parameters", humanize.Comma(int64(tensor.NumElements(frozen))))

	rng := rand.New(rand.NewSource(cfg.Seed))
	var err error
	if m.encoder, err = m.buildSide(SideEncoder, cfg.Encoder, bb.EncoderEmbedding(), cfg.RandomRange, rng); err != nil {
		return nil, err
	}
	if m.decoder, err = m.buildSide(SideDecoder, cfg.Decoder, bb.DecoderEmbedding(), cfg.RandomRange, rng); err != nil {
		return nil, err
	}
	m.encoderNTokens = m.encoder.NTokens()
	m.decoderNTokens = m.decoder.NTokens()

	trainable := m.TrainableParameters()
	m.log.Info("soft prompts ready",
		"encoder_tokens", m.encoderNTokens,
		"decoder_tokens", m.decoderNTokens,
		"trainable", humanize.Comma(int64(tensor.NumElements(trainable))))
	return m, nil
}

func (m *Model) buildSide(name string, sc SideConfig, emb backbone.Embedding, randomRange float32, rng *rand.Rand) (*Side, error) {
	if emb == nil {
		return nil, configErr("new", "backbone exposes no %s embedding", name)
	}
	embDim := emb.Dim()
	log := m.log.WithGroup(name)

	if sc.PromptPath == "" {
		if sc.HiddenDim <= 0 {
			return nil, configErr("new", "%s hidden_dim is required when no prompt path is given", name)
		}
		table, err := NewTable(sc.NTokens, sc.HiddenDim, randomRange, rng)
		if err != nil {
			return nil, err
		}
		gen, err := NewGenerator(sc.HiddenDim, embDim, rng)
		if err != nil {
			return nil, err
		}
		log.Debug("initialized prompt", "n_tokens", table.NTokens(), "hidden_dim", table.HiddenDim(), "emb_dim", embDim)
		return newSide(name, table, gen), nil
	}

	st, err := safetensors.Open(sc.PromptPath)
	if err != nil {
		return nil, storageErr("new", err, "open %s prompt", name)
	}
	table, err := tableFrom(st)
	if err != nil {
		return nil, err
	}
	if sc.NTokens > 0 && sc.NTokens != table.NTokens() {
		log.Warn("saved prompt overrides configured token count",
			"configured", sc.NTokens, "loaded", table.NTokens(), "path", sc.PromptPath)
	}

	var gen *Generator
	if hasGenerator(st) {
		if gen, err = generatorFrom(st); err != nil {
			return nil, err
		}
		if gen.HiddenDim() != table.HiddenDim() {
			return nil, storageErr("new", nil, "%s: generator expects width %d, table has %d", sc.PromptPath, gen.HiddenDim(), table.HiddenDim())
		}
		if gen.OutputDim() != embDim {
			return nil, configErr("new", "%s generator produces width %d, backbone embeddings are %d", name, gen.OutputDim(), embDim)
		}
	} else if gen, err = NewGenerator(table.HiddenDim(), embDim, rng); err != nil {
		return nil, err
	}
	log.Info("loaded prompt", "path", sc.PromptPath, "n_tokens", table.NTokens(), "hidden_dim", table.HiddenDim())
	return newSide(name, table, gen), nil
}

func (m *Model) Backbone() backbone.Seq2Seq { return m.bb }
func (m *Model) Encoder() *Side             { return m.encoder }
func (m *Model) Decoder() *Side             { return m.decoder }
func (m *Model) EncoderNTokens() int        { return m.encoderNTokens }
func (m *Model) DecoderNTokens() int        { return m.decoderNTokens }

// TrainableParameters returns the encoder side parameters followed by the
// decoder side parameters. Backbone parameters are never included.
func (m *Model) TrainableParameters() []*tensor.Param {
	return append(m.encoder.Params(), m.decoder.Params()...)
}

// SavePrompts writes each side to its own checkpoint.
func (m *Model) SavePrompts(encoderPath, decoderPath string) error {
	if err := m.encoder.Save(encoderPath); err != nil {
		return err
	}
	return m.decoder.Save(decoderPath)
}

// embed looks up ids in emb and prepends the side's prompt block.
func (m *Model) embed(op string, s *Side, emb backbone.Embedding, ids [][]int64) (*tensor.Batch, error) {
	if _, err := tensor.GridWidth(ids); err != nil {
		return nil, &Error{Op: op, Kind: ErrShape, Msg: s.name + " ids", Err: err}
	}
	tokens, err := emb.Lookup(ids)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrShape, Msg: s.name + " embedding lookup", Err: err}
	}
	prompt, err := s.Prompt()
	if err != nil {
		return nil, err
	}
	return PrependEmbeddings(prompt, tokens)
}

// Forward extends a shallow copy of in and hands it to the backbone. in is
// never modified.
//
// Raw ids on either side are replaced by prompt-prefixed embeddings. The
// encoder mask is widened only when the encoder input was extended in this
// call. The decoder mask is always widened by the decoder prompt length, as
// are the labels, so prompt positions never contribute to the loss.
func (m *Model) Forward(ctx context.Context, in *backbone.ForwardInputs) (*backbone.ForwardOutput, error) {
	if in == nil {
		return nil, contractErr("forward", "nil inputs")
	}
	call := *in
	var err error

	encoderExtended := false
	if call.InputIDs != nil {
		if call.InputsEmbeds, err = m.embed("forward", m.encoder, m.bb.EncoderEmbedding(), call.InputIDs); err != nil {
			return nil, err
		}
		call.InputIDs = nil
		encoderExtended = true
	}
	if call.DecoderInputIDs != nil {
		if call.DecoderInputsEmbeds, err = m.embed("forward", m.decoder, m.bb.DecoderEmbedding(), call.DecoderInputIDs); err != nil {
			return nil, err
		}
		call.DecoderInputIDs = nil
	}

	if call.AttentionMask != nil && call.InputsEmbeds != nil && encoderExtended {
		if err := checkRows("forward", "attention mask", call.AttentionMask, call.InputsEmbeds.N); err != nil {
			return nil, err
		}
		if call.AttentionMask, err = ExtendMask(call.AttentionMask, m.encoderNTokens); err != nil {
			return nil, err
		}
	}
	if call.DecoderAttentionMask != nil {
		if call.DecoderInputsEmbeds != nil {
			if err := checkRows("forward", "decoder attention mask", call.DecoderAttentionMask, call.DecoderInputsEmbeds.N); err != nil {
				return nil, err
			}
		}
		if call.DecoderAttentionMask, err = ExtendMask(call.DecoderAttentionMask, m.decoderNTokens); err != nil {
			return nil, err
		}
	}
	if call.Labels != nil {
		switch {
		case call.DecoderInputsEmbeds != nil:
			err = checkRows("forward", "labels", call.Labels, call.DecoderInputsEmbeds.N)
		case call.InputsEmbeds != nil:
			err = checkRows("forward", "labels", call.Labels, call.InputsEmbeds.N)
		}
		if err != nil {
			return nil, err
		}
		if call.Labels, err = ExtendLabels(call.Labels, m.decoderNTokens, IgnoreIndex); err != nil {
			return nil, err
		}
	}
	return m.bb.Forward(ctx, &call)
}

// Generate decodes from raw encoder ids. Without ids there is nothing to
// attach the encoder prompt to, so the call fails before reaching the
// backbone.
func (m *Model) Generate(ctx context.Context, in *backbone.GenerateInputs) ([][]int64, error) {
	if in == nil || len(in.InputIDs) == 0 {
		return nil, contractErr("generate", "input ids are required")
	}
	call := *in

	embeds, err := m.embed("generate", m.encoder, m.bb.EncoderEmbedding(), call.InputIDs)
	if err != nil {
		return nil, err
	}
	mask := call.AttentionMask
	if mask == nil {
		mask = tensor.Ones(embeds.N, embeds.T-m.encoderNTokens)
	} else if err := checkRows("generate", "attention mask", mask, embeds.N); err != nil {
		return nil, err
	}
	if call.AttentionMask, err = ExtendMask(mask, m.encoderNTokens); err != nil {
		return nil, err
	}
	if call.DecoderPrefix, err = m.decoder.Prompt(); err != nil {
		return nil, err
	}
	call.InputIDs = nil
	call.InputsEmbeds = embeds
	return m.bb.Generate(ctx, &call)
}
