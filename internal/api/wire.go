package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ocbridge/internal/filecontext"
	"ocbridge/internal/prompt"
)

// ModelID is the single model the bridge advertises. Clients may send any
// model string; the response always reports this one.
const ModelID = "chatgpt-macos"

// ChatCompletionRequest is the accepted subset of the OpenAI request schema
// plus the bridge routing extensions.
type ChatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []WireMessage     `json:"messages"`
	Stream         bool              `json:"stream"`
	SessionKey     string            `json:"session_key"`
	ConversationID string            `json:"conversation_id"`
	BridgeFiles    []filecontext.FileRef `json:"bridge_files"`
}

// WireMessage accepts both string content and the parts-array form.
type WireMessage struct {
	Role    string
	Content string
}

func (m *WireMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role

	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		m.Content = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.Content, &s); err == nil {
		m.Content = s
		return nil
	}
	// Parts form: [{type:"text", text:"..."}, ...]. Non-text parts are
	// rejected upstream by validation; here they just contribute nothing.
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw.Content, &parts); err != nil {
		return fmt.Errorf("message content must be a string or an array of parts")
	}
	var sb strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			sb.WriteString(p.Text)
		}
	}
	m.Content = sb.String()
	return nil
}

func (m WireMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Content})
}

func toPromptMessages(in []WireMessage) []prompt.Message {
	out := make([]prompt.Message, 0, len(in))
	for _, m := range in {
		out = append(out, prompt.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// Completion response shapes, bit-compatible with the OpenAI wire format.

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionChoice struct {
	Index        int               `json:"index"`
	Message      completionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletion is the non-stream response body.
type ChatCompletion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   usage              `json:"usage"`
}

type chunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChatCompletionChunk is one stream frame payload.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

// estimateTokens is the usual rough chars/4 heuristic; the UI gives no real
// token counts.
func estimateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

func newCompletion(requestID, promptText, text string) ChatCompletion {
	pt := estimateTokens(promptText)
	ct := estimateTokens(text)
	return ChatCompletion{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   ModelID,
		Choices: []completionChoice{{
			Index:        0,
			Message:      completionMessage{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
		Usage: usage{PromptTokens: pt, CompletionTokens: ct, TotalTokens: pt + ct},
	}
}
