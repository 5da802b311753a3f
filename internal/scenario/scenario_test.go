package scenario

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"webserver-bench/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainText_DefaultBody(t *testing.T) {
	s, err := Compile(config.ScenarioConfig{ID: "plain", Kind: config.KindPlainText, Path: "/benchmark/plain-text"})
	require.NoError(t, err)
	assert.Equal(t, "GET", s.Method)
	assert.Equal(t, 1, s.PayloadCount())

	p := s.Payload(42)
	assert.Nil(t, p.Body)
	assert.NoError(t, p.Check(200, []byte("Hello, World!")))
	assert.EqualError(t, p.Check(500, []byte("Hello, World!")), "unexpected status code 500")
	assert.EqualError(t, p.Check(200, []byte("Hello")), "expected bytes length 13 found bytes len 5")
	assert.EqualError(t, p.Check(200, []byte("Hello, world!")), "bytes data mismatch")

	pred := p.Predicate()
	assert.True(t, pred(200, []byte("Hello, World!")))
	assert.False(t, pred(404, nil))
}

func TestExpectedStatusList(t *testing.T) {
	s, err := Compile(config.ScenarioConfig{
		ID:     "io",
		Kind:   config.KindIO,
		Expect: config.Expectation{Status: []int{200, 204}},
	})
	require.NoError(t, err)
	pred := s.Payload(0).Predicate()
	assert.True(t, pred(204, nil))
	assert.True(t, pred(200, []byte("anything")))
	assert.False(t, pred(201, nil))
}

func TestDownloadBinary_BodyFileAndMIME(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	path := filepath.Join(t.TempDir(), "download-binary.png")
	require.NoError(t, os.WriteFile(path, png, 0o644))

	s, err := Compile(config.ScenarioConfig{
		ID:     "download",
		Kind:   config.KindDownloadBinary,
		Expect: config.Expectation{BodyFile: path, MIME: "image/png"},
	})
	require.NoError(t, err)
	p := s.Payload(0)
	assert.NoError(t, p.Check(200, png))
	assert.Error(t, p.Check(200, []byte("not a png at all")))
}

func TestDownloadBinary_MissingFile(t *testing.T) {
	_, err := Compile(config.ScenarioConfig{
		ID:     "download",
		Kind:   config.KindDownloadBinary,
		Expect: config.Expectation{BodyFile: filepath.Join(t.TempDir(), "missing.png")},
	})
	require.Error(t, err)
}

func TestJSON_BodyAndSchema(t *testing.T) {
	s, err := Compile(config.ScenarioConfig{
		ID:   "json",
		Kind: config.KindJSON,
		Expect: config.Expectation{
			Body:       `{"message": "Hello, World!"}`,
			JSONSchema: `{"type": "object", "required": ["message"], "properties": {"message": {"type": "string"}}}`,
		},
	})
	require.NoError(t, err)
	p := s.Payload(0)
	assert.NoError(t, p.Check(200, []byte(`{"message":"Hello, World!"}`)))
	assert.EqualError(t, p.Check(200, []byte(`{"message":"Bye"}`)), "JSON body mismatch")
	assert.Error(t, p.Check(200, []byte(`not json`)))

	schemaOnly, err := Compile(config.ScenarioConfig{
		ID:     "json-schema",
		Kind:   config.KindJSON,
		Expect: config.Expectation{JSONSchema: `{"type": "object", "required": ["message"]}`},
	})
	require.NoError(t, err)
	assert.NoError(t, schemaOnly.Payload(0).Check(200, []byte(`{"message": 1}`)))
	err = schemaOnly.Payload(0).Check(200, []byte(`{"other": 1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema violation")
}

func TestJSON_InvalidExpectedBody(t *testing.T) {
	_, err := Compile(config.ScenarioConfig{
		ID:     "json",
		Kind:   config.KindJSON,
		Expect: config.Expectation{Body: `{broken`},
	})
	require.Error(t, err)
}

func TestMatrixMultiplication_Payloads(t *testing.T) {
	s, err := Compile(config.ScenarioConfig{
		ID:     "matrix",
		Kind:   config.KindMatrixMultiplication,
		Matrix: config.MatrixConfig{Size: 3, Pool: 4, Seed: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, "POST", s.Method)
	assert.Equal(t, 4, s.PayloadCount())

	p := s.Payload(5)
	assert.Equal(t, "application/json", p.ContentType)

	var req matrixRequest
	require.NoError(t, json.Unmarshal(p.Body, &req))
	assert.Equal(t, GenerateMatrix(8, 3, 3), req.Matrix1)
	assert.Equal(t, GenerateMatrix(9, 3, 3), req.Matrix2)

	good, err := json.Marshal(matrixResponse{Result: Multiply(req.Matrix1, req.Matrix2)})
	require.NoError(t, err)
	assert.NoError(t, p.Check(200, good))

	wrong := Multiply(req.Matrix1, req.Matrix2)
	wrong[1][2] += 1
	bad, err := json.Marshal(matrixResponse{Result: wrong})
	require.NoError(t, err)
	assert.Error(t, p.Check(200, bad))

	short, err := json.Marshal(matrixResponse{Result: wrong[:2]})
	require.NoError(t, err)
	assert.EqualError(t, p.Check(200, short), "expected 3 rows found 2 rows")
}

func TestMatrixMultiplication_DefaultsWithoutMatrixConfig(t *testing.T) {
	s, err := Compile(config.ScenarioConfig{
		ID:          "matrix",
		Kind:        config.KindMatrixMultiplication,
		Path:        "/benchmark/matrix-multiplication",
		Concurrency: 1,
		Requests:    1,
	})
	require.NoError(t, err)
	require.Equal(t, config.DefaultMatrixPool, s.PayloadCount())

	var req matrixRequest
	require.NoError(t, json.Unmarshal(s.Payload(0).Body, &req))
	assert.Len(t, req.Matrix1, config.DefaultMatrixSize)
	assert.Len(t, req.Matrix2[0], config.DefaultMatrixSize)
}

func TestMultiply(t *testing.T) {
	a := Matrix{{1, 2}, {3, 4}}
	b := Matrix{{5, 6}, {7, 8}}
	assert.Equal(t, Matrix{{19, 22}, {43, 50}}, Multiply(a, b))

	rect := Multiply(Matrix{{1, 2, 3}}, Matrix{{1}, {2}, {3}})
	assert.Equal(t, Matrix{{14}}, rect)
}

func TestGenerateMatrix_Deterministic(t *testing.T) {
	assert.Equal(t, GenerateMatrix(3, 4, 5), GenerateMatrix(3, 4, 5))
	assert.NotEqual(t, GenerateMatrix(3, 4, 5), GenerateMatrix(4, 4, 5))
	m := GenerateMatrix(1, 4, 5)
	assert.Len(t, m, 4)
	assert.Len(t, m[0], 5)
}
