package api

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// MessageValidator checks inbound message payloads against a JSON schema.
// The schema file is loaded once on first use.
type MessageValidator struct {
	path string

	once   sync.Once
	schema *gojsonschema.Schema
	err    error
}

func NewMessageValidator(path string) *MessageValidator {
	return &MessageValidator{path: path}
}

func (v *MessageValidator) load() {
	raw, err := os.ReadFile(v.path)
	if err != nil {
		v.err = fmt.Errorf("read schema %s: %w", v.path, err)
		return
	}
	v.schema, v.err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
}

func (v *MessageValidator) Validate(payload any) error {
	v.once.Do(v.load)
	if v.err != nil {
		return v.err
	}
	res, err := v.schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return err
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid message: %s", strings.Join(msgs, "; "))
	}
	return nil
}
