package profiles

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/samvad-hq/samvad-relay/pkg/request"
	"gopkg.in/yaml.v3"
)

// Payload holds request data declared in a profile or an API body: a string or a
// mapping. Top-level mappings keep their declaration order as request.Pairs.
type Payload struct {
	Value any
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Payload) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		var v any
		if err := node.Decode(&v); err != nil {
			return err
		}
		p.Value = v
		return nil
	}

	pairs := make(request.Pairs, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var (
			key string
			val any
		)
		if err := node.Content[i].Decode(&key); err != nil {
			return fmt.Errorf("decode payload key: %w", err)
		}
		if err := node.Content[i+1].Decode(&val); err != nil {
			return fmt.Errorf("decode payload %q: %w", key, err)
		}
		pairs = append(pairs, request.Pair{Key: key, Value: val})
	}
	p.Value = pairs
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		p.Value = v
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}
	pairs := request.Pairs{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("decode payload key: unexpected %v", tok)
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("decode payload %q: %w", key, err)
		}
		pairs = append(pairs, request.Pair{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	p.Value = pairs
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Value)
}
