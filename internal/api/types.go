package api

// TranslationRequest carries either raw text (tokenized server-side) or
// pre-tokenized rows. Sampling fields override the server defaults.
type TranslationRequest struct {
	Text         string    `json:"text,omitempty"`
	Texts        []string  `json:"texts,omitempty"`
	InputIDs     [][]int64 `json:"input_ids,omitempty"`
	MaxNewTokens *int      `json:"max_new_tokens,omitempty"`
	Temperature  *float32  `json:"temperature,omitempty"`
	TopK         *int      `json:"top_k,omitempty"`
	TopP         *float32  `json:"top_p,omitempty"`
	Seed         *int64    `json:"seed,omitempty"`
}

type TranslationResponse struct {
	ID        string              `json:"id"`
	Object    string              `json:"object"`
	CreatedAt int64               `json:"created_at"`
	Model     string              `json:"model,omitempty"`
	Outputs   []TranslationChoice `json:"outputs"`
	Usage     TranslationUsage    `json:"usage"`
}

type TranslationChoice struct {
	Index    int     `json:"index"`
	Text     string  `json:"text,omitempty"`
	TokenIDs []int64 `json:"token_ids"`
}

type TranslationUsage struct {
	InputTokens  int `json:"input_tokens"`
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// PromptSide describes one loaded soft-prompt side.
type PromptSide struct {
	NTokens         int  `json:"n_tokens"`
	HiddenDim       int  `json:"hidden_dim"`
	EmbeddingDim    int  `json:"embedding_dim"`
	TrainableParams int  `json:"trainable_params"`
	Frozen          bool `json:"frozen"`
}

type PromptsResponse struct {
	Object  string     `json:"object"`
	Model   string     `json:"model,omitempty"`
	Encoder PromptSide `json:"encoder"`
	Decoder PromptSide `json:"decoder"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Version     string `json:"version"`
	Commit      string `json:"commit,omitempty"`
	GoVersion   string `json:"go_version,omitempty"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
}

type DeleteResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}
