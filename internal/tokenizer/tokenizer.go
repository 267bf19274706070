// Package tokenizer turns translation text into T5 token ids and back. It
// wraps the HuggingFace tokenizer registry and reads SentencePiece models
// either from a local directory or from the Hub.
package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/sentencepiece"
)

// Tokenizer defines the minimal interface used by the CLI and HTTP API.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// spieceModel is the file name T5 checkpoints use for their SentencePiece model.
const spieceModel = "spiece.model"

func init() {
	tokenizers.RegisterTokenizerClass("T5Tokenizer", newT5FromRepo)
	tokenizers.RegisterTokenizerClass("T5TokenizerFast", newT5FromRepo)
}

func newT5FromRepo(_ *api.Config, repo *hub.Repo) (api.Tokenizer, error) {
	path, err := repo.DownloadFile(spieceModel)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", spieceModel, err)
	}
	return newSentencePiece(path)
}

func newSentencePiece(path string) (api.Tokenizer, error) {
	proc, err := esentencepiece.NewProcessorFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("load sentencepiece model %s: %w", path, err)
	}
	return &sentencepiece.Tokenizer{Processor: proc, Info: proc.ModelInfo()}, nil
}

// Seq2Seq adapts an api.Tokenizer to encoder-decoder conventions: inputs end
// with EOS, and decoding drops padding and stops at the first EOS.
type Seq2Seq struct {
	tok    api.Tokenizer
	eos    int
	pad    int
	addEOS bool
}

// Wrap builds a Seq2Seq around tok. Missing special tokens fall back to the
// T5 defaults (pad 0, eos 1).
func Wrap(tok api.Tokenizer) *Seq2Seq {
	s := &Seq2Seq{tok: tok, pad: 0, eos: 1, addEOS: true}
	if id, err := tok.SpecialTokenID(api.TokEndOfSentence); err == nil && id >= 0 {
		s.eos = id
	}
	if id, err := tok.SpecialTokenID(api.TokPad); err == nil && id >= 0 {
		s.pad = id
	}
	return s
}

// WithoutEOS disables appending EOS on Encode.
func (s *Seq2Seq) WithoutEOS() *Seq2Seq {
	c := *s
	c.addEOS = false
	return &c
}

func (s *Seq2Seq) EOS() int { return s.eos }
func (s *Seq2Seq) Pad() int { return s.pad }

func (s *Seq2Seq) Encode(text string) ([]int, error) {
	ids := s.tok.Encode(text)
	if s.addEOS && (len(ids) == 0 || ids[len(ids)-1] != s.eos) {
		ids = append(ids, s.eos)
	}
	return ids, nil
}

func (s *Seq2Seq) Decode(ids []int) (string, error) {
	kept := make([]int, 0, len(ids))
	for _, id := range ids {
		if id == s.eos {
			break
		}
		if id == s.pad {
			continue
		}
		kept = append(kept, id)
	}
	return strings.TrimSpace(s.tok.Decode(kept)), nil
}

// Options configures Load.
type Options struct {
	HubToken string
	CacheDir string
}

// Load resolves source like the backbone loader does: a directory holding
// spiece.model, or a HuggingFace Hub id whose tokenizer_config.json names a
// registered tokenizer class.
func Load(source string, opts Options) (*Seq2Seq, error) {
	if fi, err := os.Stat(source); err == nil && fi.IsDir() {
		tok, err := newSentencePiece(filepath.Join(source, spieceModel))
		if err != nil {
			return nil, err
		}
		return Wrap(tok), nil
	}
	repo := hub.New(source)
	if opts.HubToken != "" {
		repo = repo.WithAuth(opts.HubToken)
	}
	if opts.CacheDir != "" {
		repo = repo.WithCacheDir(opts.CacheDir)
	}
	tok, err := tokenizers.New(repo)
	if err != nil {
		return nil, fmt.Errorf("tokenizer for %s: %w", source, err)
	}
	return Wrap(tok), nil
}

// ParseIDs parses a comma or space separated list of token ids.
func ParseIDs(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("no token ids in %q", s)
	}
	out := make([]int64, len(fields))
	for i, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("token id %q: %w", f, err)
		}
		if id < 0 {
			return nil, fmt.Errorf("token id %d is negative", id)
		}
		out[i] = id
	}
	return out, nil
}

// ToInt64 converts tokenizer output to the id grid row format.
func ToInt64(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

// ToInt converts a generated row back for decoding.
func ToInt(ids []int64) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
