package scenario

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"webserver-bench/internal/config"
)

type Matrix [][]float64

type matrixRequest struct {
	Matrix1 Matrix `json:"matrix1"`
	Matrix2 Matrix `json:"matrix2"`
}

type matrixResponse struct {
	Result Matrix `json:"result"`
}

// matrixPayloads builds pool+1 seeded square matrices and pairs neighbours, so payload i
// multiplies matrix i by matrix i+1.
func matrixPayloads(cfg config.MatrixConfig, common *responseCheck) ([]Payload, error) {
	if cfg.Size <= 0 {
		cfg.Size = config.DefaultMatrixSize
	}
	if cfg.Pool <= 0 {
		cfg.Pool = config.DefaultMatrixPool
	}
	matrices := make([]Matrix, 0, cfg.Pool+1)
	for i := 0; i <= cfg.Pool; i++ {
		matrices = append(matrices, GenerateMatrix(cfg.Seed+int64(i), cfg.Size, cfg.Size))
	}

	payloads := make([]Payload, 0, cfg.Pool)
	for i := 0; i < cfg.Pool; i++ {
		body, err := json.Marshal(matrixRequest{Matrix1: matrices[i], Matrix2: matrices[i+1]})
		if err != nil {
			return nil, fmt.Errorf("failed to encode matrix request: %w", err)
		}
		expected := Multiply(matrices[i], matrices[i+1])
		payloads = append(payloads, Payload{
			Body:        body,
			ContentType: "application/json",
			check: func(status int, body []byte) error {
				if err := common.check(status, body); err != nil {
					return err
				}
				return checkProduct(expected, body)
			},
		})
	}
	return payloads, nil
}

func checkProduct(expected Matrix, body []byte) error {
	var resp matrixResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("invalid JSON: %v", err)
	}
	found := resp.Result

	if len(found) != len(expected) {
		return fmt.Errorf("expected %d rows found %d rows", len(expected), len(found))
	}
	for row := range expected {
		if len(found[row]) != len(expected[row]) {
			return fmt.Errorf("expected %d columns found %d columns", len(expected[row]), len(found[row]))
		}
		for col := range expected[row] {
			if found[row][col] != expected[row][col] {
				return fmt.Errorf("expected value %v found %v", expected[row][col], found[row][col])
			}
		}
	}
	return nil
}

func NewMatrix(rows, columns int) Matrix {
	m := make(Matrix, rows)
	for i := range m {
		m[i] = make([]float64, columns)
	}
	return m
}

func GenerateMatrix(seed int64, rows, columns int) Matrix {
	rng := rand.New(rand.NewSource(seed))
	m := make(Matrix, rows)
	for i := range m {
		row := make([]float64, columns)
		for j := range row {
			row[j] = rng.Float64()
		}
		m[i] = row
	}
	return m
}

// Multiply uses a transposed right operand and sums left to right, the same evaluation
// order the reference servers use, so results compare exactly.
func Multiply(a, b Matrix) Matrix {
	m := len(a)
	if m == 0 {
		return Matrix{}
	}
	n := len(a[0])
	p := len(b[0])

	bt := NewMatrix(p, n)
	for i, row := range b {
		for j, x := range row {
			bt[j][i] = x
		}
	}

	c := NewMatrix(m, p)
	for i := range c {
		for j := range c[i] {
			var acc float64
			for k := 0; k < n; k++ {
				acc += a[i][k] * bt[j][k]
			}
			c[i][j] = acc
		}
	}
	return c
}
