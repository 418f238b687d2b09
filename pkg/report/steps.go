package report

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Steps is the ordered list of stages. It marshals as a JSON object whose
// keys keep pipeline order.
type Steps []*Stage

// MarshalJSON implements json.Marshaler
func (s Steps) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, stage := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(stage.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(stage.StageOutcome)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal stage %s", stage.Name)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, preserving key order.
func (s *Steps) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("steps must be a JSON object")
	}

	var steps Steps
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return errors.Errorf("unexpected token %v in steps", tok)
		}
		var outcome StageOutcome
		if err := dec.Decode(&outcome); err != nil {
			return errors.Wrapf(err, "failed to decode stage %s", name)
		}
		steps = append(steps, &Stage{Name: name, StageOutcome: outcome})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = steps
	return nil
}
