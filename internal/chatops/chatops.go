// Package chatops implements the concrete ResponseParser family and the
// chat/embedding operation wrappers a local-AI style plugin exposes,
// grounded directly on appflowy-local-ai/src/ai_ops.rs and
// embedding_plugin.rs. Every method sends its RPC through a
// plugin.Plugin, so this package is an "external collaborator" that only
// ever touches the envelope and the readiness signal.
package chatops

import (
	"encoding/json"

	"github.com/quillhive/sidecar/internal/plugin"
	"github.com/quillhive/sidecar/internal/pluginerr"
	"github.com/quillhive/sidecar/internal/stream"
)

// handleEnvelope wraps method/params the way the original's send_request
// does: every domain verb is relayed through the plugin's single "handle"
// entry point, with the real method name carried in the payload.
func handleEnvelope(method string, params any) map[string]any {
	return map[string]any{"method": method, "params": params}
}

// EmptyAckParser accepts any successful response and discards the payload,
// matching DefaultResponseParser/EmptyResponseParser: a call like
// create_chat only cares that it didn't error.
type EmptyAckParser struct{}

func (EmptyAckParser) ParseResponse(raw json.RawMessage) (struct{}, error) {
	return struct{}{}, nil
}

// ChatAnswerParser extracts the string at {"data": "..."}.
type ChatAnswerParser struct{}

func (ChatAnswerParser) ParseResponse(raw json.RawMessage) (string, error) {
	var env struct {
		Data *string `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.Data == nil {
		return "", pluginerr.ParseResponse(raw)
	}
	return *env.Data, nil
}

// RelatedQuestionsParser extracts the content string of every element of
// {"data": [{"content": "..."}]}.
type RelatedQuestionsParser struct{}

func (RelatedQuestionsParser) ParseResponse(raw json.RawMessage) ([]string, error) {
	var env struct {
		Data []struct {
			Content string `json:"content"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, pluginerr.ParseResponse(raw)
	}
	out := make([]string, 0, len(env.Data))
	for _, item := range env.Data {
		out = append(out, item.Content)
	}
	return out, nil
}

// ChatStreamParser treats the entire frame as a raw byte chunk: the result
// must be a JSON string, returned verbatim as bytes.
type ChatStreamParser struct{}

func (ChatStreamParser) ParseResponse(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, pluginerr.ParseResponse(raw)
	}
	return []byte(s), nil
}

// ChatStreamV2Parser unwraps a frame whose result is itself a JSON value
// encoded as a string (the child double-encodes so the outer envelope
// always carries a string payload).
type ChatStreamV2Parser struct{}

func (ChatStreamV2Parser) ParseResponse(raw json.RawMessage) (json.RawMessage, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, pluginerr.ParseResponse(raw)
	}
	var v json.RawMessage
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, pluginerr.ParseResponse(raw)
	}
	return v, nil
}

// EmbeddingsParser extracts the float matrix at {"data": {"embeddings": [[..]]}}.
type EmbeddingsParser struct{}

func (EmbeddingsParser) ParseResponse(raw json.RawMessage) ([][]float64, error) {
	var env struct {
		Data struct {
			Embeddings [][]float64 `json:"embeddings"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, pluginerr.ParseResponse(raw)
	}
	return env.Data.Embeddings, nil
}

// DatabaseSummaryParser extracts the string at {"data": "..."}.
type DatabaseSummaryParser struct{}

func (DatabaseSummaryParser) ParseResponse(raw json.RawMessage) (string, error) {
	return ChatAnswerParser{}.ParseResponse(raw)
}

// TranslatedRow is one row of a database-translate response.
type TranslatedRow map[string]string

// DatabaseTranslateParser extracts {"data": {"items": [{...}]}}.
type DatabaseTranslateParser struct{}

func (DatabaseTranslateParser) ParseResponse(raw json.RawMessage) ([]TranslatedRow, error) {
	var env struct {
		Data struct {
			Items []TranslatedRow `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, pluginerr.ParseResponse(raw)
	}
	return env.Data.Items, nil
}

// Ops wraps a Plugin with the well-known local-AI verb set.
type Ops struct {
	pl *plugin.Plugin
}

// New wraps a Plugin handle for chat/embedding use.
func New(pl *plugin.Plugin) *Ops { return &Ops{pl: pl} }

// CreateChat opens a chat session keyed by chatID.
func (o *Ops) CreateChat(chatID string) error {
	_, err := plugin.Request[struct{}](o.pl, "handle", handleEnvelope("create_chat", map[string]any{
		"chat_id": chatID, "top_k": 2,
	}), EmptyAckParser{})
	return err
}

// CloseChat closes a previously opened chat session.
func (o *Ops) CloseChat(chatID string) error {
	_, err := plugin.Request[struct{}](o.pl, "handle", handleEnvelope("close_chat", map[string]any{
		"chat_id": chatID,
	}), EmptyAckParser{})
	return err
}

// SendMessage asks the chat for a single, non-streamed answer.
func (o *Ops) SendMessage(chatID, message string) (string, error) {
	return plugin.Request[string](o.pl, "handle", handleEnvelope("answer", map[string]any{
		"chat_id": chatID, "content": message,
	}), ChatAnswerParser{})
}

// StreamMessage asks the chat for a streamed answer, yielding raw byte
// chunks as they arrive.
func (o *Ops) StreamMessage(chatID, message string, metadata any) *stream.Stream[[]byte] {
	return plugin.StreamRequest[[]byte](o.pl, "handle", handleEnvelope("stream_answer", map[string]any{
		"chat_id": chatID, "content": message, "metadata": metadata,
	}), ChatStreamParser{}, 32)
}

// StreamMessageV2 is StreamMessage's typed-JSON-chunk sibling.
func (o *Ops) StreamMessageV2(chatID, message string, format, metadata any) *stream.Stream[json.RawMessage] {
	return plugin.StreamRequest[json.RawMessage](o.pl, "handle", handleEnvelope("stream_answer_v2", map[string]any{
		"chat_id": chatID, "data": map[string]any{"content": message}, "metadata": metadata, "format": format,
	}), ChatStreamV2Parser{}, 32)
}

// GetRelatedQuestions returns follow-up questions suggested for chatID.
func (o *Ops) GetRelatedQuestions(chatID string) ([]string, error) {
	return plugin.Request[[]string](o.pl, "handle", handleEnvelope("related_question", map[string]any{
		"chat_id": chatID,
	}), RelatedQuestionsParser{})
}

// EmbedFile indexes a file's content into chatID's retrieval index.
func (o *Ops) EmbedFile(chatID string, filePath, fileContent *string, metadata map[string]any) error {
	if filePath == nil && fileContent == nil {
		return pluginerr.Internal("file_path or file_content must be provided")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["chat_id"] = chatID
	params := map[string]any{"metadatas": []any{metadata}}
	if filePath != nil {
		params["file_path"] = *filePath
	}
	if fileContent != nil {
		params["file_content"] = *fileContent
	}
	_, err := plugin.Request[struct{}](o.pl, "handle", handleEnvelope("embed_file", map[string]any{
		"chat_id": chatID, "params": params,
	}), EmptyAckParser{})
	return err
}

// CompleteTextType enumerates the writing-assistance transforms complete_text
// supports.
type CompleteTextType int

const (
	ImproveWriting CompleteTextType = iota + 1
	SpellingAndGrammar
	MakeShorter
	MakeLonger
	AskAI
)

// CompleteText streams a rewritten version of message.
func (o *Ops) CompleteText(message string, kind CompleteTextType, format any) *stream.Stream[[]byte] {
	return plugin.StreamRequest[[]byte](o.pl, "handle", handleEnvelope("complete_text", map[string]any{
		"text": message, "type": int(kind), "format": format,
	}), ChatStreamParser{}, 32)
}

// SummaryRow asks the plugin to summarize a database row's cells.
func (o *Ops) SummaryRow(row map[string]string) (string, error) {
	return plugin.Request[string](o.pl, "handle", handleEnvelope("database_summary", map[string]any{
		"params": row,
	}), DatabaseSummaryParser{})
}

// TranslateCell is one cell of a translate-row request.
type TranslateCell struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// TranslateRow asks the plugin to translate a database row into language.
func (o *Ops) TranslateRow(cells []TranslateCell, language string, includeHeader bool) ([]TranslatedRow, error) {
	return plugin.Request[[]TranslatedRow](o.pl, "handle", handleEnvelope("database_translate", map[string]any{
		"params": map[string]any{
			"cells": cells, "language": language, "include_header": includeHeader,
		},
	}), DatabaseTranslateParser{})
}

// GenerateEmbedding asks an embedding plugin for the vector(s) of text.
func GenerateEmbedding(pl *plugin.Plugin, text string) ([][]float64, error) {
	return plugin.Request[[][]float64](pl, "handle", handleEnvelope("get_embeddings", map[string]any{
		"input": text,
	}), EmbeddingsParser{})
}
