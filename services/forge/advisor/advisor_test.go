// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digest() Digest {
	return Digest{
		Operation:   "rename_function",
		Description: "Rename Util.helper/1 to increment",
		Files: []FileDigest{
			{Path: "util.py", LinesAdded: 2, LinesRemoved: 2, Unified: "--- a/util.py\n+++ b/util.py\n"},
		},
		Warnings: []string{"dynamic call at app.py:3 left unchanged"},
	}
}

func chatServer(t *testing.T, content string, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])

		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_Summarize(t *testing.T) {
	srv := chatServer(t, "  Renames helper everywhere.  ", 0)
	p, err := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "test-model"})
	require.NoError(t, err)

	s, err := p.Summarize(context.Background(), digest())
	require.NoError(t, err)
	assert.Equal(t, "Renames helper everywhere.", s.Text)
	assert.Equal(t, "test-model", s.Model)
}

func TestOpenAI_EmptyAnswer(t *testing.T) {
	srv := chatServer(t, " ", 0)
	p, err := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "test-model"})
	require.NoError(t, err)

	_, err = p.Summarize(context.Background(), digest())
	assert.ErrorIs(t, err, ErrEmptySummary)
}

func TestOpenAI_Timeout(t *testing.T) {
	srv := chatServer(t, "late", 2*time.Second)
	p, err := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "test-model", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = p.Summarize(context.Background(), digest())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	assert.Error(t, err)
}

func TestPrompt_Truncates(t *testing.T) {
	d := digest()
	d.Files[0].Unified = strings.Repeat("x", 100)

	out := Prompt(d, 10)
	assert.Contains(t, out, "Operation: rename_function")
	assert.Contains(t, out, "Warning: dynamic call")
	assert.Contains(t, out, "util.py (+2 -2)")
	assert.Contains(t, out, "(truncated)")
	assert.NotContains(t, out, strings.Repeat("x", 11))
}
