package validator

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/courseloop/simulation-backend/internal/model"
)

func bindAnswer(t *testing.T, body string) map[string]string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")

	var req model.SubmitAnswerRequest
	return Bind(c, &req)
}

func TestBindAcceptsValidAnswer(t *testing.T) {
	Setup()

	fields := bindAnswer(t, `{
		"question_id": "3f2504e0-4f89-41d3-9a0c-0305e82c3301",
		"answer": "B",
		"time_range": "1500-4200"
	}`)
	if fields != nil {
		t.Fatalf("expected no field errors, got %v", fields)
	}
}

func TestBindRejectsMalformedTimeRange(t *testing.T) {
	Setup()

	for _, tr := range []string{"4200-1500", "1500", "abc-def", "-200-300"} {
		fields := bindAnswer(t, `{
			"question_id": "3f2504e0-4f89-41d3-9a0c-0305e82c3301",
			"answer": "B",
			"time_range": "`+tr+`"
		}`)
		if fields == nil {
			t.Fatalf("time_range %q: expected a field error", tr)
		}
		if _, ok := fields["time_range"]; !ok {
			t.Fatalf("time_range %q: expected error keyed by json name, got %v", tr, fields)
		}
	}
}

func TestBindReportsJSONSyntaxErrors(t *testing.T) {
	Setup()

	fields := bindAnswer(t, `{not json`)
	if fields == nil {
		t.Fatal("expected a detail error for malformed JSON")
	}
	if _, ok := fields["detail"]; !ok {
		t.Fatalf("expected detail key, got %v", fields)
	}
}
