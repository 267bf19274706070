package softprompt

import (
	"github.com/samcharles93/sptune/internal/backbone"
	"github.com/samcharles93/sptune/internal/tensor"
)

// IgnoreIndex is the label value excluded from the loss.
const IgnoreIndex = backbone.IgnoreIndex

// PrependEmbeddings returns a (B, n+T, D) batch whose first n positions in
// every row are the rows of prompt, followed by that row of embeds.
func PrependEmbeddings(prompt *tensor.Mat, embeds *tensor.Batch) (*tensor.Batch, error) {
	if err := embeds.Validate(); err != nil {
		return nil, &Error{Op: "prepend_embeddings", Kind: ErrShape, Msg: "embeddings", Err: err}
	}
	if prompt == nil {
		return nil, shapeErr("prepend_embeddings", "nil prompt block")
	}
	if prompt.C != embeds.D {
		return nil, shapeErr("prepend_embeddings", "prompt width %d does not match embedding width %d", prompt.C, embeds.D)
	}
	n := prompt.R
	out := tensor.NewBatch(embeds.N, n+embeds.T, embeds.D)
	for b := 0; b < embeds.N; b++ {
		for t := 0; t < n; t++ {
			copy(out.Vec(b, t), prompt.Row(t))
		}
		src := embeds.Seq(b)
		dst := out.Seq(b)
		copy(dst.Data[n*embeds.D:], src.Data)
	}
	return out, nil
}

// ExtendMask prepends n attend (1) columns to every row of mask.
func ExtendMask(mask [][]int64, n int) ([][]int64, error) {
	return prependColumns("extend_mask", mask, n, 1)
}

// ExtendLabels prepends n columns of ignore to every row of labels.
func ExtendLabels(labels [][]int64, n int, ignore int64) ([][]int64, error) {
	return prependColumns("extend_labels", labels, n, ignore)
}

func prependColumns(op string, grid [][]int64, n int, fill int64) ([][]int64, error) {
	if n < 0 {
		return nil, shapeErr(op, "negative prefix width %d", n)
	}
	width, err := tensor.GridWidth(grid)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrShape, Msg: "ragged input", Err: err}
	}
	out := make([][]int64, len(grid))
	for i, row := range grid {
		ext := make([]int64, n+width)
		for j := 0; j < n; j++ {
			ext[j] = fill
		}
		copy(ext[n:], row)
		out[i] = ext
	}
	return out, nil
}

// checkRows verifies that a mask or label grid matches the batch size of the
// embeddings it accompanies.
func checkRows(op, what string, grid [][]int64, batch int) error {
	if len(grid) != batch {
		return shapeErr(op, "%s has %d rows, embeddings have %d", what, len(grid), batch)
	}
	return nil
}
