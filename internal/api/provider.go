package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/sptune/internal/backbone"
	"github.com/samcharles93/sptune/internal/logger"
	"github.com/samcharles93/sptune/internal/softprompt"
	"github.com/samcharles93/sptune/internal/tokenizer"
)

// Pipeline is everything a translation request needs: the prompt-tuned
// model, an optional tokenizer and the generation defaults.
type Pipeline struct {
	Name      string
	Model     *softprompt.Model
	Tokenizer tokenizer.Tokenizer
	PadID     int64
	EOSID     int64
	Defaults  backbone.GenerateOptions
}

// PipelineLoader builds the pipeline on first use.
type PipelineLoader func(ctx context.Context) (*Pipeline, error)

type Provider interface {
	WithPipeline(ctx context.Context, fn func(p *Pipeline) error) error
	Loaded() bool
}

var errNoLoader = errors.New("no pipeline loader configured")

// CachedProvider loads the pipeline lazily and runs one request at a time
// against it.
type CachedProvider struct {
	load PipelineLoader
	log  logger.Logger

	mu       sync.Mutex
	pipeline *Pipeline
}

func NewCachedProvider(load PipelineLoader, log logger.Logger) *CachedProvider {
	if log == nil {
		log = logger.Nop()
	}
	return &CachedProvider{load: load, log: log}
}

// NewStaticProvider serves an already built pipeline.
func NewStaticProvider(p *Pipeline) *CachedProvider {
	return &CachedProvider{log: logger.Nop(), pipeline: p}
}

func (c *CachedProvider) WithPipeline(ctx context.Context, fn func(p *Pipeline) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pipeline == nil {
		if c.load == nil {
			return errNoLoader
		}
		c.log.Info("loading pipeline")
		p, err := c.load(ctx)
		if err != nil {
			return fmt.Errorf("load pipeline: %w", err)
		}
		c.pipeline = p
		c.log.Info("pipeline ready", "model", p.Name,
			"encoder_tokens", p.Model.EncoderNTokens(),
			"decoder_tokens", p.Model.DecoderNTokens())
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(c.pipeline)
}

func (c *CachedProvider) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipeline != nil
}
