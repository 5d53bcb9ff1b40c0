package endpoints

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/benmeehan/vpn-core/pkg/encryption"
)

// Descriptor maps a logical operation to a physical endpoint.
type Descriptor struct {
	Operation   string `yaml:"operation"`
	URLTemplate string `yaml:"url"`
	Method      string `yaml:"method"`
}

// Table is the plaintext form of the endpoint table.
type Table struct {
	Endpoints []Descriptor `yaml:"endpoints"`
}

// Index validates the table and returns it keyed by operation.
func (t Table) Index() (map[string]Descriptor, error) {
	index := make(map[string]Descriptor, len(t.Endpoints))
	for _, d := range t.Endpoints {
		if d.Operation == "" || d.URLTemplate == "" {
			return nil, errors.New("endpoint entry requires operation and url")
		}
		d.Method = strings.ToUpper(d.Method)
		switch d.Method {
		case "":
			d.Method = http.MethodGet
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
		default:
			return nil, fmt.Errorf("endpoint %q has unsupported method %q", d.Operation, d.Method)
		}
		if _, dup := index[d.Operation]; dup {
			return nil, fmt.Errorf("endpoint %q is defined twice", d.Operation)
		}
		index[d.Operation] = d
	}
	return index, nil
}

// Seal encrypts the table with AES-256-GCM and base64 encodes the result.
func Seal(key []byte, table Table) ([]byte, error) {
	if _, err := table.Index(); err != nil {
		return nil, err
	}

	plain, err := yaml.Marshal(table)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize endpoint table: %w", err)
	}

	em, err := encryption.NewEncryptionManager(key)
	if err != nil {
		return nil, err
	}
	sealed, err := em.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt endpoint table: %w", err)
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

// Open reverses Seal.
func Open(key []byte, sealed []byte) (Table, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(sealed)))
	if err != nil {
		return Table{}, fmt.Errorf("failed to decode endpoint table: %w", err)
	}

	em, err := encryption.NewEncryptionManager(key)
	if err != nil {
		return Table{}, err
	}
	plain, err := em.Decrypt(raw)
	if err != nil {
		return Table{}, err
	}

	var table Table
	if err := yaml.Unmarshal(plain, &table); err != nil {
		return Table{}, fmt.Errorf("failed to parse endpoint table: %w", err)
	}
	return table, nil
}

// Expand substitutes {name} placeholders with params. Values are path
// escaped before the query separator and query escaped after it.
func (d Descriptor) Expand(params map[string]string) (string, error) {
	var b strings.Builder
	rest := d.URLTemplate
	inQuery := false

	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		literal := rest[:open]
		if strings.IndexByte(literal, '?') >= 0 {
			inQuery = true
		}
		b.WriteString(literal)

		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("endpoint %q: unterminated placeholder", d.Operation)
		}
		name := rest[open+1 : open+end]
		value, ok := params[name]
		if !ok {
			return "", fmt.Errorf("endpoint %q: missing parameter %q", d.Operation, name)
		}
		if inQuery {
			b.WriteString(url.QueryEscape(value))
		} else {
			b.WriteString(url.PathEscape(value))
		}
		rest = rest[open+end+1:]
	}
}
