package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxSearchDepth bounds nesting while decoding a blob.
const MaxSearchDepth = 512

var errTooDeep = errors.New("json nesting exceeds search depth")

type nodeKind int

const (
	kindScalar nodeKind = iota
	kindObject
	kindArray
)

// node keeps object members in document order, which a plain
// map[string]interface{} would lose.
type node struct {
	kind   nodeKind
	keys   []string
	items  []*node
	scalar interface{}
}

// FindDataset returns the flattened payload list of the first blob that
// carries the target key. Later blobs are never looked at.
func (p *ThreadsParser) FindDataset(blobs []string) ([]RawPostPayload, error) {
	for i, blob := range blobs {
		if !p.hasMarkers(blob) {
			continue
		}

		root, err := decodeTree(blob, p.maxDepth)
		if err != nil {
			p.logger.Warn("skipping undecodable blob", "index", i, "error", err)
			continue
		}

		found := root.lookup(p.targetKey, nil)
		if len(found) == 0 {
			continue
		}

		payloads := flatten(found)
		if len(payloads) == 0 {
			continue
		}

		p.logger.Debug("dataset located", "blob", i, "payloads", len(payloads))
		return payloads, nil
	}

	return nil, ErrNoDatasetFound
}

func (p *ThreadsParser) hasMarkers(blob string) bool {
	for _, m := range p.markers {
		if !strings.Contains(blob, m) {
			return false
		}
	}
	return true
}

// flatten unrolls one level: every matched value is a list of payloads.
// Matches that are not lists carry no payloads.
func flatten(found []*node) []RawPostPayload {
	var out []RawPostPayload
	for _, n := range found {
		if n.kind != kindArray {
			continue
		}
		for _, item := range n.items {
			out = append(out, item.value())
		}
	}
	return out
}

func (n *node) lookup(key string, out []*node) []*node {
	switch n.kind {
	case kindObject:
		for i, k := range n.keys {
			child := n.items[i]
			if k == key {
				out = append(out, child)
			}
			out = child.lookup(key, out)
		}
	case kindArray:
		for _, child := range n.items {
			out = child.lookup(key, out)
		}
	}
	return out
}

// value converts the ordered tree into the generic form path queries run on.
func (n *node) value() interface{} {
	switch n.kind {
	case kindObject:
		m := make(map[string]interface{}, len(n.keys))
		for i, k := range n.keys {
			m[k] = n.items[i].value()
		}
		return m
	case kindArray:
		a := make([]interface{}, len(n.items))
		for i, child := range n.items {
			a[i] = child.value()
		}
		return a
	default:
		return n.scalar
	}
}

func decodeTree(blob string, maxDepth int) (*node, error) {
	dec := json.NewDecoder(strings.NewReader(blob))
	dec.UseNumber()

	root, err := decodeNode(dec, 0, maxDepth)
	if err != nil {
		return nil, err
	}

	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}

	return root, nil
}

func decodeNode(dec *json.Decoder, depth, maxDepth int) (*node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return &node{kind: kindScalar, scalar: tok}, nil
	}

	if depth >= maxDepth {
		return nil, errTooDeep
	}

	switch delim {
	case '{':
		n := &node{kind: kindObject}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected object key %v", keyTok)
			}
			child, err := decodeNode(dec, depth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			n.keys = append(n.keys, key)
			n.items = append(n.items, child)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return n, nil
	case '[':
		n := &node{kind: kindArray}
		for dec.More() {
			child, err := decodeNode(dec, depth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			n.items = append(n.items, child)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %q", delim)
	}
}
