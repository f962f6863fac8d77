package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&HTTPError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, retryable(&HTTPError{StatusCode: http.StatusInternalServerError}))
	assert.False(t, retryable(&HTTPError{StatusCode: http.StatusBadRequest}))
	assert.True(t, retryable(context.DeadlineExceeded))
	assert.False(t, retryable(errors.New("some other error")))
}

func TestRetryDo_SucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	calls := 0
	err := RetryDo(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryDo_RetriesRetryableErrorsUpToMaxAttempts(t *testing.T) {
	calls := 0
	err := RetryDo(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return &HTTPError{StatusCode: http.StatusInternalServerError}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryDo_StopsImmediatelyOnNonRetryableError(t *testing.T) {
	calls := 0
	err := RetryDo(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return &HTTPError{StatusCode: http.StatusBadRequest}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestParseRetryAfter_Seconds(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseRetryAfter("5"))
}

func TestParseRetryAfter_Empty(t *testing.T) {
	assert.Equal(t, time.Duration(0), ParseRetryAfter(""))
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	future := time.Now().Add(10 * time.Second).UTC()
	d := ParseRetryAfter(future.Format(http.TimeFormat))
	assert.Greater(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, 11*time.Second)
}

func TestParseRetryAfter_PastDateIsZero(t *testing.T) {
	past := time.Now().Add(-10 * time.Second).UTC()
	assert.Equal(t, time.Duration(0), ParseRetryAfter(past.Format(http.TimeFormat)))
}

func TestCleanSchemaForProvider_StripsDollarSchema(t *testing.T) {
	schema := map[string]interface{}{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
	}
	cleaned := CleanSchemaForProvider(schema, "openai")
	assert.NotContains(t, cleaned, "$schema")
	assert.Equal(t, "object", cleaned["type"])
}

func TestCleanSchemaForProvider_StripsAdditionalPropertiesForGeminiOnly(t *testing.T) {
	schema := map[string]interface{}{"additionalProperties": false, "type": "object"}

	gemini := CleanSchemaForProvider(schema, "gemini")
	assert.NotContains(t, gemini, "additionalProperties")

	openai := CleanSchemaForProvider(schema, "openai")
	assert.Contains(t, openai, "additionalProperties")
}

func TestCleanSchemaForProvider_RecursesIntoNestedObjects(t *testing.T) {
	schema := map[string]interface{}{
		"properties": map[string]interface{}{
			"nested": map[string]interface{}{"$schema": "x", "type": "string"},
		},
	}
	cleaned := CleanSchemaForProvider(schema, "openai")
	props := cleaned["properties"].(map[string]interface{})
	nested := props["nested"].(map[string]interface{})
	assert.NotContains(t, nested, "$schema")
}

func TestCleanSchemaForProvider_NilIsNil(t *testing.T) {
	assert.Nil(t, CleanSchemaForProvider(nil, "openai"))
}
