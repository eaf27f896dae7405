package chatops

import (
	"encoding/json"
	"testing"
)

func TestChatAnswerParserExtractsDataString(t *testing.T) {
	v, err := ChatAnswerParser{}.ParseResponse(json.RawMessage(`{"data":"hello there"}`))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if v != "hello there" {
		t.Fatalf("v = %q, want %q", v, "hello there")
	}
}

func TestChatAnswerParserRejectsMissingData(t *testing.T) {
	if _, err := (ChatAnswerParser{}).ParseResponse(json.RawMessage(`{"other":1}`)); err == nil {
		t.Fatal("expected error for missing data field")
	}
}

func TestRelatedQuestionsParserExtractsContentArray(t *testing.T) {
	raw := json.RawMessage(`{"data":[{"content":"q1"},{"content":"q2"}]}`)
	got, err := RelatedQuestionsParser{}.ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(got) != 2 || got[0] != "q1" || got[1] != "q2" {
		t.Fatalf("got %v", got)
	}
}

func TestChatStreamParserUnwrapsJSONString(t *testing.T) {
	got, err := ChatStreamParser{}.ParseResponse(json.RawMessage(`"partial answer chunk"`))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if string(got) != "partial answer chunk" {
		t.Fatalf("got %q", got)
	}
}

func TestChatStreamV2ParserReparsesEncodedJSON(t *testing.T) {
	raw := json.RawMessage(`"{\"answer\":\"hi\"}"`)
	got, err := ChatStreamV2Parser{}.ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	var decoded struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(got, &decoded); err != nil {
		t.Fatalf("unmarshal inner: %v", err)
	}
	if decoded.Answer != "hi" {
		t.Fatalf("decoded.Answer = %q, want hi", decoded.Answer)
	}
}

func TestEmbeddingsParserExtractsFloatMatrix(t *testing.T) {
	raw := json.RawMessage(`{"data":{"embeddings":[[0.1,0.2],[0.3,0.4]]}}`)
	got, err := EmbeddingsParser{}.ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(got) != 2 || got[0][0] != 0.1 || got[1][1] != 0.4 {
		t.Fatalf("got %v", got)
	}
}

func TestDatabaseTranslateParserExtractsItems(t *testing.T) {
	raw := json.RawMessage(`{"data":{"items":[{"title":"translated"}]}}`)
	got, err := DatabaseTranslateParser{}.ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if len(got) != 1 || got[0]["title"] != "translated" {
		t.Fatalf("got %v", got)
	}
}
