package main

import (
	"context"
	"fmt"

	"github.com/samcharles93/sptune/internal/api"
	"github.com/samcharles93/sptune/internal/backbone"
	"github.com/samcharles93/sptune/internal/backbone/t5"
	"github.com/samcharles93/sptune/internal/logger"
	"github.com/samcharles93/sptune/internal/softprompt"
	"github.com/samcharles93/sptune/internal/tokenizer"
)

func promptConfig() softprompt.Config {
	return softprompt.Config{
		Encoder: softprompt.SideConfig{
			NTokens:    int(encoderTokens),
			HiddenDim:  int(encoderHidden),
			PromptPath: encoderPrompt,
		},
		Decoder: softprompt.SideConfig{
			NTokens:    int(decoderTokens),
			HiddenDim:  int(decoderHidden),
			PromptPath: decoderPrompt,
		},
		RandomRange: float32(randomRange),
		Seed:        seed,
	}
}

func generationDefaults() backbone.GenerateOptions {
	return backbone.GenerateOptions{
		MaxNewTokens: int(maxNewTokens),
		Temperature:  float32(temperature),
		TopK:         int(topK),
		TopP:         float32(topP),
		Seed:         seed,
	}
}

func backboneOptions(log logger.Logger) []t5.Option {
	opts := []t5.Option{
		t5.WithLogger(log),
		t5.WithHubToken(resolveHubToken(hubToken)),
		t5.WithCacheDir(resolveCacheDir(cacheDir)),
	}
	if workers > 0 {
		opts = append(opts, t5.WithWorkers(int(workers)))
	}
	return opts
}

// loadModel loads the T5 backbone named by --backbone and wraps it with the
// configured prompt sides.
func loadModel(ctx context.Context) (*softprompt.Model, *t5.Model, error) {
	log := logger.FromContext(ctx)
	loader := t5.NewLoader(backboneOptions(log)...)
	m, err := softprompt.Create(ctx, loader, backboneSource, promptConfig(), softprompt.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	bb, ok := m.Backbone().(*t5.Model)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected backbone type %T", m.Backbone())
	}
	return m, bb, nil
}

// loadPipeline builds everything a translation needs. Without a usable
// tokenizer the pipeline still serves pre-tokenized input unless
// requireTokenizer is set.
func loadPipeline(ctx context.Context, requireTokenizer bool) (*api.Pipeline, error) {
	log := logger.FromContext(ctx)
	m, bb, err := loadModel(ctx)
	if err != nil {
		return nil, err
	}
	cfg := bb.Config()
	p := &api.Pipeline{
		Name:     backboneSource,
		Model:    m,
		PadID:    int64(cfg.PadTokenID),
		EOSID:    int64(cfg.EOSTokenID),
		Defaults: generationDefaults(),
	}
	tok, err := tokenizer.Load(backboneSource, tokenizer.Options{
		HubToken: resolveHubToken(hubToken),
		CacheDir: resolveCacheDir(cacheDir),
	})
	if err != nil {
		if requireTokenizer {
			return nil, err
		}
		log.Warn("tokenizer unavailable, only input_ids requests will work", "error", err)
		return p, nil
	}
	p.Tokenizer = tok
	return p, nil
}
