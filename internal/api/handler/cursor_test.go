package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/detect-pipeline/internal/results"
)

func TestPredictionCursor(t *testing.T) {
	in := results.Cursor{
		CompletedAt: time.Date(2024, 1, 1, 12, 0, 0, 123456000, time.UTC),
		JobID:       "01HV0000000000000000000000",
	}

	out, err := DecodePredictionCursor(EncodePredictionCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CompletedAt.Equal(out.CompletedAt))
	assert.Equal(t, in.JobID, out.JobID)

	empty, err := DecodePredictionCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestDecodePredictionCursor_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{name: "not base64", cursor: "%%%"},
		{name: "no separator", cursor: base64.RawURLEncoding.EncodeToString([]byte("12345"))},
		{name: "bad timestamp", cursor: base64.RawURLEncoding.EncodeToString([]byte("abc|01J"))},
		{name: "empty job id", cursor: base64.RawURLEncoding.EncodeToString([]byte("12345|"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePredictionCursor(tt.cursor)
			assert.Error(t, err)
		})
	}
}
