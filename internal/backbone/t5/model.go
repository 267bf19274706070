package t5

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/go-huggingface/hub"

	"github.com/samcharles93/sptune/internal/backbone"
	"github.com/samcharles93/sptune/internal/logger"
	"github.com/samcharles93/sptune/internal/safetensors"
	"github.com/samcharles93/sptune/internal/tensor"
)

const (
	configFile  = "config.json"
	weightsFile = "model.safetensors"
)

type attention struct {
	q, k, v, o *tensor.Param
}

type feedForward struct {
	wi, wi0, wi1 *tensor.Param // wi for plain, wi0/wi1 for gated
	wo           *tensor.Param
}

type encoderBlock struct {
	attnNorm *tensor.Param
	attn     attention
	ffNorm   *tensor.Param
	ff       feedForward
}

type decoderBlock struct {
	selfNorm  *tensor.Param
	self      attention
	crossNorm *tensor.Param
	cross     attention
	ffNorm    *tensor.Param
	ff        feedForward
}

// Model is a T5 encoder-decoder held entirely in float32.
type Model struct {
	cfg   Config
	gated bool
	relu  bool

	shared    *tensor.Param // (vocab, d_model)
	lmHead    *tensor.Param // nil when tied
	encRel    *tensor.Param // (buckets, heads)
	decRel    *tensor.Param
	encoder   []encoderBlock
	decoder   []decoderBlock
	encFinal  *tensor.Param
	decFinal  *tensor.Param
	params    []*tensor.Param
	embedding *Embedding

	log     logger.Logger
	workers int
}

var _ backbone.Seq2Seq = (*Model)(nil)

type options struct {
	log      logger.Logger
	workers  int
	hubToken string
	cacheDir string
}

type Option func(*options)

func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithWorkers bounds how many batch rows are evaluated concurrently.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithHubToken authenticates HuggingFace Hub downloads.
func WithHubToken(token string) Option {
	return func(o *options) { o.hubToken = token }
}

// WithCacheDir overrides the HuggingFace Hub cache location.
func WithCacheDir(dir string) Option {
	return func(o *options) { o.cacheDir = dir }
}

func buildOptions(opts []Option) options {
	o := options{log: logger.Nop(), workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers <= 0 {
		o.workers = 1
	}
	return o
}

// Loader resolves backbone sources with a fixed set of options.
type Loader struct {
	opts []Option
}

func NewLoader(opts ...Option) *Loader {
	return &Loader{opts: opts}
}

func (l *Loader) Load(ctx context.Context, source string) (backbone.Seq2Seq, error) {
	return Load(ctx, source, l.opts...)
}

// Load reads a model from a local directory holding config.json and
// model.safetensors, or downloads those files when source is a hub id.
func Load(ctx context.Context, source string, opts ...Option) (*Model, error) {
	o := buildOptions(opts)
	dir, err := resolve(ctx, source, o)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(filepath.Join(dir, configFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", source, err)
	}
	st, err := safetensors.Open(filepath.Join(dir, weightsFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", source, err)
	}
	if err := st.Map(); err != nil {
		o.log.Debug("mmap unavailable, reading tensors directly", "error", err)
	}
	defer func() { _ = st.Close() }()

	m, err := newModel(cfg, o, func(name string, rows, cols int) (*tensor.Mat, error) {
		// Some exports only keep the per-stack copy of the tied embedding.
		if _, ok := st.Tensor(name); !ok && name == "shared.weight" {
			name = "encoder.embed_tokens.weight"
		}
		return readWeight(st, name, rows, cols)
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", source, err)
	}
	m.log.Info("loaded t5 backbone",
		"source", source,
		"d_model", cfg.DModel,
		"layers", fmt.Sprintf("%d/%d", cfg.NumLayers, cfg.NumDecoderLayers),
		"parameters", humanize.Comma(int64(tensor.NumElements(m.params))),
		"size", humanize.Bytes(uint64(tensor.NumElements(m.params))*4))
	return m, nil
}

func resolve(ctx context.Context, source string, o options) (string, error) {
	if fi, err := os.Stat(source); err == nil && fi.IsDir() {
		return source, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	repo := hub.New(source)
	if o.hubToken != "" {
		repo = repo.WithAuth(o.hubToken)
	}
	if o.cacheDir != "" {
		repo = repo.WithCacheDir(o.cacheDir)
	}
	var dir string
	for _, name := range []string{configFile, weightsFile} {
		path, err := repo.DownloadFile(name)
		if err != nil {
			return "", fmt.Errorf("download %s from %s: %w", name, source, err)
		}
		o.log.Debug("resolved hub file", "repo", source, "file", name, "path", path)
		dir = filepath.Dir(path)
	}
	return dir, nil
}

// readWeight loads a tensor and checks it has the expected shape. Vectors
// are requested with rows == 1.
func readWeight(st *safetensors.File, name string, rows, cols int) (*tensor.Mat, error) {
	info, ok := st.Tensor(name)
	if !ok {
		return nil, fmt.Errorf("missing tensor %s", name)
	}
	var (
		m   *tensor.Mat
		err error
	)
	if len(info.Shape) == 1 {
		m, err = tensor.LoadSafetensorsVec(st, name)
	} else {
		m, err = tensor.LoadSafetensorsMat(st, name)
	}
	if err != nil {
		return nil, err
	}
	if m.R != rows || m.C != cols {
		return nil, fmt.Errorf("tensor %s: shape (%d, %d), want (%d, %d)", name, m.R, m.C, rows, cols)
	}
	return m, nil
}

// NewRandom builds a model with small random weights. It is meant for tests
// and for exercising the pipeline without a checkpoint.
func NewRandom(cfg Config, seed int64, opts ...Option) (*Model, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	return newModel(cfg, buildOptions(opts), func(name string, rows, cols int) (*tensor.Mat, error) {
		m := tensor.NewMat(rows, cols)
		if rows == 1 && isNorm(name) {
			for i := range m.Data {
				m.Data[i] = 1
			}
			return &m, nil
		}
		tensor.FillNormal(&m, rng, 0.2)
		return &m, nil
	})
}

func isNorm(name string) bool {
	return strings.HasSuffix(name, "layer_norm.weight")
}

type weightSource func(name string, rows, cols int) (*tensor.Mat, error)

func newModel(cfg Config, o options, read weightSource) (*Model, error) {
	gated, act, err := cfg.activation()
	if err != nil {
		return nil, err
	}
	m := &Model{
		cfg:     cfg,
		gated:   gated,
		relu:    act == "relu",
		log:     o.log,
		workers: o.workers,
	}
	get := func(name string, rows, cols int) (*tensor.Param, error) {
		w, err := read(name, rows, cols)
		if err != nil {
			return nil, err
		}
		p := &tensor.Param{Name: name, Value: w, Trainable: true}
		m.params = append(m.params, p)
		return p, nil
	}
	d, inner := cfg.DModel, cfg.InnerDim()

	if m.shared, err = get("shared.weight", cfg.VocabSize, d); err != nil {
		return nil, err
	}
	attn := func(prefix string) (attention, error) {
		var a attention
		var err error
		if a.q, err = get(prefix+".q.weight", inner, d); err != nil {
			return a, err
		}
		if a.k, err = get(prefix+".k.weight", inner, d); err != nil {
			return a, err
		}
		if a.v, err = get(prefix+".v.weight", inner, d); err != nil {
			return a, err
		}
		a.o, err = get(prefix+".o.weight", d, inner)
		return a, err
	}
	ff := func(prefix string) (feedForward, error) {
		var f feedForward
		var err error
		if gated {
			if f.wi0, err = get(prefix+".wi_0.weight", cfg.DFF, d); err != nil {
				return f, err
			}
			if f.wi1, err = get(prefix+".wi_1.weight", cfg.DFF, d); err != nil {
				return f, err
			}
		} else if f.wi, err = get(prefix+".wi.weight", cfg.DFF, d); err != nil {
			return f, err
		}
		f.wo, err = get(prefix+".wo.weight", d, cfg.DFF)
		return f, err
	}

	m.encoder = make([]encoderBlock, cfg.NumLayers)
	for i := range m.encoder {
		b := &m.encoder[i]
		p := fmt.Sprintf("encoder.block.%d.layer", i)
		if b.attnNorm, err = get(p+".0.layer_norm.weight", 1, d); err != nil {
			return nil, err
		}
		if b.attn, err = attn(p + ".0.SelfAttention"); err != nil {
			return nil, err
		}
		if i == 0 {
			if m.encRel, err = get(p+".0.SelfAttention.relative_attention_bias.weight", cfg.RelativeAttentionNumBuckets, cfg.NumHeads); err != nil {
				return nil, err
			}
		}
		if b.ffNorm, err = get(p+".1.layer_norm.weight", 1, d); err != nil {
			return nil, err
		}
		if b.ff, err = ff(p + ".1.DenseReluDense"); err != nil {
			return nil, err
		}
	}
	if m.encFinal, err = get("encoder.final_layer_norm.weight", 1, d); err != nil {
		return nil, err
	}

	m.decoder = make([]decoderBlock, cfg.NumDecoderLayers)
	for i := range m.decoder {
		b := &m.decoder[i]
		p := fmt.Sprintf("decoder.block.%d.layer", i)
		if b.selfNorm, err = get(p+".0.layer_norm.weight", 1, d); err != nil {
			return nil, err
		}
		if b.self, err = attn(p + ".0.SelfAttention"); err != nil {
			return nil, err
		}
		if i == 0 {
			if m.decRel, err = get(p+".0.SelfAttention.relative_attention_bias.weight", cfg.RelativeAttentionNumBuckets, cfg.NumHeads); err != nil {
				return nil, err
			}
		}
		if b.crossNorm, err = get(p+".1.layer_norm.weight", 1, d); err != nil {
			return nil, err
		}
		if b.cross, err = attn(p + ".1.EncDecAttention"); err != nil {
			return nil, err
		}
		if b.ffNorm, err = get(p+".2.layer_norm.weight", 1, d); err != nil {
			return nil, err
		}
		if b.ff, err = ff(p + ".2.DenseReluDense"); err != nil {
			return nil, err
		}
	}
	if m.decFinal, err = get("decoder.final_layer_norm.weight", 1, d); err != nil {
		return nil, err
	}
	if !cfg.Tied() {
		if m.lmHead, err = get("lm_head.weight", cfg.VocabSize, d); err != nil {
			return nil, err
		}
	}
	m.embedding = &Embedding{table: m.shared.Value}
	return m, nil
}

func (m *Model) Config() Config { return m.cfg }

// Parameters returns every weight in checkpoint order.
func (m *Model) Parameters() []*tensor.Param { return m.params }

// EncoderEmbedding and DecoderEmbedding share the same table, as in T5.
func (m *Model) EncoderEmbedding() backbone.Embedding { return m.embedding }
func (m *Model) DecoderEmbedding() backbone.Embedding { return m.embedding }

// Embedding looks rows up in the shared token table.
type Embedding struct {
	table *tensor.Mat
}

func (e *Embedding) Dim() int { return e.table.C }

func (e *Embedding) Lookup(ids [][]int64) (*tensor.Batch, error) {
	width, err := tensor.GridWidth(ids)
	if err != nil {
		return nil, err
	}
	out := tensor.NewBatch(len(ids), width, e.table.C)
	for b, row := range ids {
		for t, id := range row {
			if id < 0 || id >= int64(e.table.R) {
				return nil, fmt.Errorf("token id %d outside vocabulary of %d", id, e.table.R)
			}
			copy(out.Vec(b, t), e.table.Row(int(id)))
		}
	}
	return out, nil
}
