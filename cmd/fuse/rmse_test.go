package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestRMSE(t *testing.T) {
	ref := [][2]float64{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}}
	pred := append([][2]float64{{9, 9}, {9, 9}}, ref...)

	rmse, shift := bestRMSE(pred, ref, 4)
	assert.Equal(t, 2, shift)
	assert.InDelta(t, 0, rmse, 1e-12)

	rmse, shift = bestRMSE(ref, pred, 4)
	assert.Equal(t, -2, shift)
	assert.InDelta(t, 0, rmse, 1e-12)

	rmse, _ = bestRMSE(nil, ref, 2)
	assert.Equal(t, math.MaxFloat64, rmse)
}

func TestReadXY(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.csv")
	require.NoError(t, os.WriteFile(path, []byte("seq,X_m,y_m\n1,1.5,2\n2,bad,3\n3,4,5\n"), 0o644))

	got, err := readXY(path)
	require.NoError(t, err)
	assert.Equal(t, [][2]float64{{1.5, 2}, {4, 5}}, got)

	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0o644))
	_, err = readXY(path)
	assert.ErrorContains(t, err, "columns not found")
}

func TestParseAgentHex(t *testing.T) {
	v, err := parseAgentHex(" 0xb50ac ")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xB50AC), v)

	_, err = parseAgentHex("xyz")
	assert.Error(t, err)
}
