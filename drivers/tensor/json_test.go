package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reactorfs/upd/req"
)

func TestJSON_RendersFlatData(t *testing.T) {
	f := newFixture(t)
	setMeta(t, f, []int{3})
	req.Dispatch(&req.Request{
		File: f, Category: req.CategoryTensor,
		Tensor:   &req.TensorPayload{Op: req.TensorData, Data: []float64{1, -2.5, 3}},
		Callback: func(*req.Request) {},
	})

	require.Equal(t, `[1,-2.5,3]`, string(JSON(f)))
}

func TestJSON_RendersNaNAndInfWithoutErroring(t *testing.T) {
	f := newFixture(t)
	setMeta(t, f, []int{3})
	req.Dispatch(&req.Request{
		File: f, Category: req.CategoryTensor,
		Tensor:   &req.TensorPayload{Op: req.TensorData, Data: []float64{math.NaN(), math.Inf(1), math.Inf(-1)}},
		Callback: func(*req.Request) {},
	})

	require.Equal(t, `["NaN","Infinity","-Infinity"]`, string(JSON(f)))
}

func TestShapeString(t *testing.T) {
	f := newFixture(t)
	setMeta(t, f, []int{2, 3})
	require.Equal(t, "[2,3]", ShapeString(f))
}
