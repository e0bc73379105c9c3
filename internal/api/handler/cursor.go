package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/detect-pipeline/internal/results"
)

func DecodePredictionCursor(cursorStr string) (*results.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var completedAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &completedAt); err != nil {
		return nil, fmt.Errorf("invalid completedAt in cursor: %w", err)
	}

	return &results.Cursor{
		CompletedAt: time.Unix(0, completedAt).UTC(),
		JobID:       parts[1],
	}, nil
}

func EncodePredictionCursor(cursor results.Cursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CompletedAt.UnixNano(), cursor.JobID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
