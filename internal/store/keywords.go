package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

func encodeKeywords(kw []string) (string, error) {
	if kw == nil {
		kw = []string{}
	}
	b, err := json.Marshal(kw)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal keywords")
	}
	return string(b), nil
}

func decodeKeywords(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var kw []string
	if err := json.Unmarshal([]byte(s), &kw); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal keywords")
	}
	return kw, nil
}
