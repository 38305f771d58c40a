package wire

import (
	"bytes"
	"strconv"
	"strings"
)

// Field is a single "key = value" line inside a node block.
type Field struct {
	Key   string
	Value string
}

// Node is one named block of the store's node-text format. Scenario
// fragments are sequences of these. Fields keep their wire order and
// blocks may nest.
type Node struct {
	Name   string
	Fields []Field
	Nodes  []*Node
}

// Value returns the first field with the given key.
func (n *Node) Value(key string) (string, bool) {
	for _, f := range n.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Float returns the first field with the given key parsed as a float.
func (n *Node) Float(key string) (float64, bool) {
	raw, ok := n.Value(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Set replaces the first field with the given key, appending it when
// absent.
func (n *Node) Set(key, value string) {
	for i := range n.Fields {
		if n.Fields[i].Key == key {
			n.Fields[i].Value = value
			return
		}
	}
	n.Fields = append(n.Fields, Field{Key: key, Value: value})
}

// ParseNodes parses a node-text fragment into its top-level blocks. A
// block is a name line followed by a braced body ("Name" then "{", or
// "Name {" on one line) of "key = value" fields and nested blocks.
// Anything that fits neither shape is dropped and counted. Truncated
// input keeps the blocks parsed so far; each unterminated block counts
// as one skip.
func ParseNodes(data []byte) ([]*Node, int) {
	var (
		top     []*Node
		stack   []*Node
		pending string
		skipped int
	)
	push := func(n *Node) {
		if len(stack) == 0 {
			top = append(top, n)
		} else {
			parent := stack[len(stack)-1]
			parent.Nodes = append(parent.Nodes, n)
		}
		stack = append(stack, n)
	}
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
		case line == "{":
			if pending == "" {
				skipped++
				continue
			}
			push(&Node{Name: pending})
			pending = ""
		case line == "}":
			if pending != "" {
				pending = ""
				skipped++
			}
			if len(stack) == 0 {
				skipped++
				continue
			}
			stack = stack[:len(stack)-1]
		case strings.HasSuffix(line, "{"):
			if pending != "" {
				pending = ""
				skipped++
			}
			name := strings.TrimSpace(strings.TrimSuffix(line, "{"))
			if name == "" {
				skipped++
				continue
			}
			push(&Node{Name: name})
		default:
			if key, value, ok := strings.Cut(line, "="); ok {
				if pending != "" {
					pending = ""
					skipped++
				}
				if len(stack) == 0 {
					skipped++
					continue
				}
				cur := stack[len(stack)-1]
				cur.Fields = append(cur.Fields, Field{
					Key:   strings.TrimSpace(key),
					Value: strings.TrimSpace(value),
				})
				continue
			}
			if pending != "" {
				skipped++
			}
			pending = line
		}
	}
	if pending != "" {
		skipped++
	}
	skipped += len(stack)
	return top, skipped
}

// RenderNodes writes blocks back in the canonical shape other clients
// expect: name line, brace line, tab-indented fields, nested blocks,
// closing brace.
func RenderNodes(nodes []*Node) []byte {
	var buf bytes.Buffer
	for _, n := range nodes {
		writeNode(&buf, n, 0)
	}
	return buf.Bytes()
}

func writeNode(buf *bytes.Buffer, n *Node, depth int) {
	indent := strings.Repeat("\t", depth)
	buf.WriteString(indent)
	buf.WriteString(n.Name)
	buf.WriteString("\n")
	buf.WriteString(indent)
	buf.WriteString("{\n")
	for _, f := range n.Fields {
		buf.WriteString(indent)
		buf.WriteString("\t")
		buf.WriteString(f.Key)
		buf.WriteString(" = ")
		buf.WriteString(f.Value)
		buf.WriteString("\n")
	}
	for _, child := range n.Nodes {
		writeNode(buf, child, depth+1)
	}
	buf.WriteString(indent)
	buf.WriteString("}\n")
}

// ParseKeyFloat reads the first "key = value" line of a scalar fragment,
// such as the research balance fragment.
func ParseKeyFloat(data []byte, key string) (float64, bool) {
	for _, line := range Lines(data) {
		k, v, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(k) != key {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
