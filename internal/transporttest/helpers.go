package transporttest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// JSONResponse builds a 200 response whose body is the JSON encoding of
// body, for stubbing MockHTTPDoer.Do in initial-load tests.
func JSONResponse(body any) *http.Response {
	b, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(b)),
		Header:     make(http.Header),
	}
}

// StatusResponse builds a response with the given status and a plain
// text body, for stubbing failure paths (401, 500, ...).
func StatusResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

// NDJSONBody joins lines with newlines, the shape the live channel
// reader (bufio.Scanner) expects: one JSON delivery object per line,
// with blank lines as heartbeats.
func NDJSONBody(lines ...string) io.ReadCloser {
	return io.NopCloser(bytes.NewReader([]byte(joinNDJSON(lines))))
}

func joinNDJSON(lines []string) string {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return buf.String()
}

// StreamResponse builds a 200 response whose body never closes on its
// own (a PipeReader), letting a test control exactly when and how the
// live connection ends by writing to and then closing the returned
// writer.
func StreamResponse() (*http.Response, *io.PipeWriter) {
	pr, pw := io.Pipe()
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Body:       pr,
		Header:     make(http.Header),
	}
	return resp, pw
}
