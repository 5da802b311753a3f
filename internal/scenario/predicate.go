package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"webserver-bench/internal/config"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xeipuuv/gojsonschema"
)

type responseCheck struct {
	status   map[int]bool
	body     []byte
	jsonBody interface{}
	schema   *gojsonschema.Schema
	mime     string
	kind     config.ScenarioKind
}

func newResponseCheck(cfg config.ScenarioConfig) (*responseCheck, error) {
	rc := &responseCheck{
		status: make(map[int]bool),
		mime:   cfg.Expect.MIME,
		kind:   cfg.Kind,
	}

	codes := cfg.Expect.Status
	if len(codes) == 0 {
		codes = []int{200}
	}
	for _, code := range codes {
		rc.status[code] = true
	}

	switch {
	case cfg.Expect.BodyFile != "":
		data, err := readBodyFile(cfg.Expect.BodyFile)
		if err != nil {
			return nil, err
		}
		rc.body = data
	case cfg.Expect.Body != "":
		rc.body = []byte(cfg.Expect.Body)
	case cfg.Kind == config.KindPlainText:
		rc.body = []byte(DefaultPlainTextBody)
	}

	if cfg.Kind == config.KindJSON && rc.body != nil {
		if err := json.Unmarshal(rc.body, &rc.jsonBody); err != nil {
			return nil, fmt.Errorf("expected body is not valid JSON: %w", err)
		}
	}

	if cfg.Expect.JSONSchema != "" {
		schema, err := gojsonschema.NewSchema(schemaLoader(cfg.Expect.JSONSchema))
		if err != nil {
			return nil, fmt.Errorf("invalid json schema: %w", err)
		}
		rc.schema = schema
	}

	return rc, nil
}

func schemaLoader(ref string) gojsonschema.JSONLoader {
	if strings.HasPrefix(strings.TrimSpace(ref), "{") {
		return gojsonschema.NewStringLoader(ref)
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		abs = ref
	}
	return gojsonschema.NewReferenceLoader("file://" + filepath.ToSlash(abs))
}

func (rc *responseCheck) checkStatus(status int) error {
	if !rc.status[status] {
		return fmt.Errorf("unexpected status code %d", status)
	}
	return nil
}

// check validates status, then the body according to the scenario kind.
func (rc *responseCheck) check(status int, body []byte) error {
	if err := rc.checkStatus(status); err != nil {
		return err
	}

	if rc.mime != "" {
		if detected := mimetype.Detect(body); !detected.Is(rc.mime) {
			return fmt.Errorf("expected content type %s found %s", rc.mime, detected.String())
		}
	}

	switch rc.kind {
	case config.KindJSON:
		var doc interface{}
		if err := json.Unmarshal(body, &doc); err != nil {
			return fmt.Errorf("invalid JSON: %v", err)
		}
		if rc.jsonBody != nil && !reflect.DeepEqual(doc, rc.jsonBody) {
			return fmt.Errorf("JSON body mismatch")
		}
	case config.KindMatrixMultiplication:
		// the product is verified per payload
	default:
		if rc.body != nil && !bytes.Equal(body, rc.body) {
			if len(body) != len(rc.body) {
				return fmt.Errorf("expected bytes length %d found bytes len %d", len(rc.body), len(body))
			}
			return fmt.Errorf("bytes data mismatch")
		}
	}

	if rc.schema != nil {
		result, err := rc.schema.Validate(gojsonschema.NewBytesLoader(body))
		if err != nil {
			return fmt.Errorf("schema validation failed: %v", err)
		}
		if !result.Valid() {
			return fmt.Errorf("schema violation: %s", result.Errors()[0].String())
		}
	}

	return nil
}
