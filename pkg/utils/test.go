package utils

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestRequest routes one request through a mux registered with "METHOD url",
// so method mismatches fail the way they do in the server.
func TestRequest(t *testing.T, method string, url string, body io.Reader, handler func(http.ResponseWriter, *http.Request)) *httptest.ResponseRecorder {
	return TestRoutedRequest(t, method, url, fmt.Sprintf("%s %s", method, url), body, handler)
}

func TestRoutedRequest(t *testing.T, method string, url string, pattern string, body io.Reader, handler func(http.ResponseWriter, *http.Request)) *httptest.ResponseRecorder {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	router := http.NewServeMux()

	router.HandleFunc(pattern, handler)

	router.ServeHTTP(rr, req)

	return rr
}

func TestExpectedStatus(t *testing.T, rr *httptest.ResponseRecorder, statusCode int) {
	t.Helper()

	if rr.Code != statusCode {
		t.Errorf("expected status code %d, got %d", statusCode, rr.Code)
	}
}

func TestExpectedMessage(t *testing.T, rr *httptest.ResponseRecorder, m string) {
	t.Helper()

	if !strings.Contains(rr.Body.String(), m) {
		t.Errorf("received message `%s`, expected message `%s`", rr.Body.String(), m)
	}
}
