package embedder_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/scopemem-go/pkg/embedder"
)

type fixedDims int

func (d fixedDims) Embed(context.Context, string) ([]float64, error)          { return nil, nil }
func (d fixedDims) EmbedBatch(context.Context, []string) ([][]float64, error) { return nil, nil }
func (d fixedDims) Dimensions() int                                          { return int(d) }
func (d fixedDims) Close() error                                             { return nil }

func TestCheckVector(t *testing.T) {
	tests := []struct {
		name string
		dims int
		vec  []float64
		ok   bool
	}{
		{"matching length", 3, []float64{0.1, 0.2, 0.3}, true},
		{"unknown dimensions", 0, []float64{0.1}, true},
		{"empty", 3, nil, false},
		{"wrong length", 3, []float64{0.1, 0.2}, false},
		{"nan", 2, []float64{0.1, math.NaN()}, false},
		{"inf", 2, []float64{math.Inf(1), 0.1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := embedder.CheckVector(fixedDims(tt.dims), tt.vec)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, embedder.ErrBadVector)
			}
		})
	}
}
