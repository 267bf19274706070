// Package t5 is a pure-Go T5 encoder-decoder that satisfies backbone.Seq2Seq.
// It reads HuggingFace checkpoints (config.json + model.safetensors) from a
// local directory or the HuggingFace Hub.
package t5

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// Config mirrors the fields of a HuggingFace T5Config that affect inference.
type Config struct {
	VocabSize                    int     `json:"vocab_size"`
	DModel                       int     `json:"d_model"`
	DKV                          int     `json:"d_kv"`
	DFF                          int     `json:"d_ff"`
	NumLayers                    int     `json:"num_layers"`
	NumDecoderLayers             int     `json:"num_decoder_layers"`
	NumHeads                     int     `json:"num_heads"`
	RelativeAttentionNumBuckets  int     `json:"relative_attention_num_buckets"`
	RelativeAttentionMaxDistance int     `json:"relative_attention_max_distance"`
	LayerNormEpsilon             float64 `json:"layer_norm_epsilon"`
	FeedForwardProj              string  `json:"feed_forward_proj"`
	TieWordEmbeddings            *bool   `json:"tie_word_embeddings,omitempty"`
	DecoderStartTokenID          int     `json:"decoder_start_token_id"`
	EOSTokenID                   int     `json:"eos_token_id"`
	PadTokenID                   int     `json:"pad_token_id"`
}

// LoadConfig reads and validates a config.json file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes config.json content, fills T5 defaults and validates.
func ParseConfig(data []byte) (Config, error) {
	cfg := Config{EOSTokenID: 1}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse t5 config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.NumDecoderLayers == 0 {
		c.NumDecoderLayers = c.NumLayers
	}
	if c.RelativeAttentionNumBuckets == 0 {
		c.RelativeAttentionNumBuckets = 32
	}
	if c.RelativeAttentionMaxDistance == 0 {
		c.RelativeAttentionMaxDistance = 128
	}
	if c.LayerNormEpsilon == 0 {
		c.LayerNormEpsilon = 1e-6
	}
	if c.FeedForwardProj == "" {
		c.FeedForwardProj = "relu"
	}
	if c.TieWordEmbeddings == nil {
		tied := true
		c.TieWordEmbeddings = &tied
	}
}

func (c Config) Validate() error {
	for _, f := range []struct {
		name string
		v    int
	}{
		{"vocab_size", c.VocabSize},
		{"d_model", c.DModel},
		{"d_kv", c.DKV},
		{"d_ff", c.DFF},
		{"num_layers", c.NumLayers},
		{"num_decoder_layers", c.NumDecoderLayers},
		{"num_heads", c.NumHeads},
		{"relative_attention_num_buckets", c.RelativeAttentionNumBuckets},
		{"relative_attention_max_distance", c.RelativeAttentionMaxDistance},
	} {
		if f.v <= 0 {
			return fmt.Errorf("t5 config: %s must be positive, got %d", f.name, f.v)
		}
	}
	if _, _, err := c.activation(); err != nil {
		return err
	}
	for name, id := range map[string]int{
		"decoder_start_token_id": c.DecoderStartTokenID,
		"eos_token_id":           c.EOSTokenID,
		"pad_token_id":           c.PadTokenID,
	} {
		if id < 0 || id >= c.VocabSize {
			return fmt.Errorf("t5 config: %s %d outside vocabulary of %d", name, id, c.VocabSize)
		}
	}
	return nil
}

// Tied reports whether the LM head reuses the shared embedding.
func (c Config) Tied() bool {
	return c.TieWordEmbeddings == nil || *c.TieWordEmbeddings
}

// InnerDim is the concatenated width of all attention heads.
func (c Config) InnerDim() int {
	return c.NumHeads * c.DKV
}

// activation resolves feed_forward_proj into (gated, activation name).
func (c Config) activation() (bool, string, error) {
	proj := strings.ToLower(c.FeedForwardProj)
	gated := strings.HasPrefix(proj, "gated-")
	act := strings.TrimPrefix(proj, "gated-")
	switch act {
	case "relu", "gelu", "gelu_new":
	default:
		return false, "", fmt.Errorf("t5 config: unsupported feed_forward_proj %q", c.FeedForwardProj)
	}
	// T5 v1.1 configs say gated-gelu but use the tanh approximation.
	if act == "gelu" && gated {
		act = "gelu_new"
	}
	return gated, act, nil
}
