// Package query parses the statements typed into the interactive client.
//
//	READ <table> <key> [(field, ...)]
//	INSERT <table> <key> field=value [field=value ...]
//	UPDATE <table> <key> field=value [field=value ...]
//	DELETE <table> <key>
//	SCAN <table> <start> <count>
//	OPTIONS <sync> <strip> <replication rate> <node rate>
//	OPTIONS OFF
//
// Keywords are case-insensitive. Values may be quoted with ' or " and a
// backslash escapes the next character.
package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/DeltaLaboratory/dotted/internal/faults"
	"github.com/DeltaLaboratory/dotted/internal/record"
)

var (
	ErrEmpty        = errors.New("empty query")
	ErrUnterminated = errors.New("unterminated quote")
)

type Request interface {
	Verb() string
}

type ReadRequest struct {
	Table  string
	Key    string
	Fields []string
}

type InsertRequest struct {
	Table  string
	Key    string
	Values record.Record
}

type UpdateRequest struct {
	Table  string
	Key    string
	Values record.Record
}

type DeleteRequest struct {
	Table string
	Key   string
}

type ScanRequest struct {
	Table    string
	StartKey string
	Count    int
}

type OptionsRequest struct {
	Params faults.Params
}

func (ReadRequest) Verb() string    { return "READ" }
func (InsertRequest) Verb() string  { return "INSERT" }
func (UpdateRequest) Verb() string  { return "UPDATE" }
func (DeleteRequest) Verb() string  { return "DELETE" }
func (ScanRequest) Verb() string    { return "SCAN" }
func (OptionsRequest) Verb() string { return "OPTIONS" }

type Parser struct {
	tokens []string
	pos    int
}

func NewParser(input string) (*Parser, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	return &Parser{tokens: tokens}, nil
}

// Parse is shorthand for NewParser(input).Parse().
func Parse(input string) (Request, error) {
	p, err := NewParser(input)
	if err != nil {
		return nil, err
	}
	return p.Parse()
}

func (p *Parser) Parse() (Request, error) {
	if len(p.tokens) == 0 {
		return nil, ErrEmpty
	}

	verb := strings.ToUpper(p.next())

	var (
		req Request
		err error
	)
	switch verb {
	case "READ":
		req, err = p.parseRead()
	case "INSERT", "UPDATE":
		req, err = p.parseWrite(verb)
	case "DELETE":
		var table, key string
		if table, key, err = p.parseTarget(verb); err == nil {
			req = DeleteRequest{Table: table, Key: key}
		}
	case "SCAN":
		req, err = p.parseScan()
	case "OPTIONS":
		req, err = p.parseOptions()
	default:
		return nil, fmt.Errorf("unknown query type: %s", verb)
	}
	if err != nil {
		return nil, err
	}

	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("unexpected tokens at end of input: %q", p.tokens[p.pos:])
	}
	return req, nil
}

func (p *Parser) next() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *Parser) peek() (string, bool) {
	if p.pos >= len(p.tokens) {
		return "", false
	}
	return p.tokens[p.pos], true
}

func (p *Parser) expect(token string) error {
	if t, ok := p.peek(); !ok || t != token {
		return fmt.Errorf("expected '%s'", token)
	}
	p.pos++
	return nil
}

func (p *Parser) parseTarget(verb string) (table, key string, err error) {
	if p.pos+2 > len(p.tokens) {
		return "", "", fmt.Errorf("%s requires a table and a key", verb)
	}
	table, key = p.next(), p.next()
	if table == "" || key == "" {
		return "", "", fmt.Errorf("%s requires a non-empty table and key", verb)
	}
	return table, key, nil
}

func (p *Parser) parseRead() (Request, error) {
	table, key, err := p.parseTarget("READ")
	if err != nil {
		return nil, err
	}
	req := ReadRequest{Table: table, Key: key}

	if t, ok := p.peek(); !ok || t != "(" {
		return req, nil
	}
	p.pos++

	req.Fields, err = p.parseFieldList()
	if err != nil {
		return nil, err
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return req, nil
}

func (p *Parser) parseFieldList() ([]string, error) {
	field, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	fields := []string{field}

	for {
		if t, ok := p.peek(); !ok || t != "," {
			return fields, nil
		}
		p.pos++
		field, err := p.parseIdentifier()
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
	}
}

func (p *Parser) parseIdentifier() (string, error) {
	t, ok := p.peek()
	if !ok {
		return "", fmt.Errorf("expected identifier")
	}
	if !isValidIdentifier(t) {
		return "", fmt.Errorf("invalid identifier: %s", t)
	}
	p.pos++
	return t, nil
}

func (p *Parser) parseWrite(verb string) (Request, error) {
	table, key, err := p.parseTarget(verb)
	if err != nil {
		return nil, err
	}

	values := record.Record{}
	for p.pos < len(p.tokens) {
		t := p.next()
		field, value, ok := strings.Cut(t, "=")
		if !ok {
			return nil, fmt.Errorf("expected field=value, got %q", t)
		}
		if !isValidIdentifier(field) {
			return nil, fmt.Errorf("invalid identifier: %s", field)
		}
		values[field] = []byte(value)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s requires at least one field=value pair", verb)
	}

	if verb == "INSERT" {
		return InsertRequest{Table: table, Key: key, Values: values}, nil
	}
	return UpdateRequest{Table: table, Key: key, Values: values}, nil
}

func (p *Parser) parseScan() (Request, error) {
	table, start, err := p.parseTarget("SCAN")
	if err != nil {
		return nil, err
	}
	t := p.next()
	count, err := strconv.Atoi(t)
	if err != nil || count < 0 {
		return nil, fmt.Errorf("SCAN count must be a non-negative integer, got %q", t)
	}
	return ScanRequest{Table: table, StartKey: start, Count: count}, nil
}

func (p *Parser) parseOptions() (Request, error) {
	if t, ok := p.peek(); ok && strings.EqualFold(t, "OFF") {
		p.pos++
		return OptionsRequest{Params: faults.Disabled()}, nil
	}
	if p.pos+4 > len(p.tokens) {
		return nil, fmt.Errorf("OPTIONS requires sync, strip, replication rate and node rate, or OFF")
	}

	var (
		params faults.Params
		err    error
	)
	if params.SyncInterval, err = strconv.Atoi(p.next()); err != nil {
		return nil, fmt.Errorf("invalid sync interval: %w", err)
	}
	if params.StripInterval, err = strconv.Atoi(p.next()); err != nil {
		return nil, fmt.Errorf("invalid strip interval: %w", err)
	}
	rate, err := strconv.ParseFloat(p.next(), 32)
	if err != nil {
		return nil, fmt.Errorf("invalid replication failure rate: %w", err)
	}
	params.ReplicationFailureRate = float32(rate)
	if params.NodeFailureRate, err = strconv.Atoi(p.next()); err != nil {
		return nil, fmt.Errorf("invalid node failure rate: %w", err)
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}
	return OptionsRequest{Params: params}, nil
}

func isValidIdentifier(s string) bool {
	if len(s) == 0 || !unicode.IsLetter(rune(s[0])) {
		return false
	}
	for _, ch := range s[1:] {
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '_' {
			return false
		}
	}
	return true
}

// tokenize splits on unquoted whitespace. Unquoted parentheses and commas are
// tokens of their own; quotes may appear mid-token, as in field="a b".
func tokenize(input string) ([]string, error) {
	var (
		tokens    []string
		current   strings.Builder
		started   bool
		quoteChar rune
		escape    bool
	)

	flush := func() {
		if started {
			tokens = append(tokens, current.String())
			current.Reset()
			started = false
		}
	}

	for _, char := range input {
		switch {
		case escape:
			current.WriteRune(char)
			started = true
			escape = false
		case char == '\\':
			escape = true
		case quoteChar != 0:
			if char == quoteChar {
				quoteChar = 0
			} else {
				current.WriteRune(char)
			}
		case char == '"' || char == '\'':
			quoteChar = char
			started = true
		case unicode.IsSpace(char):
			flush()
		case char == '(' || char == ')' || char == ',':
			flush()
			tokens = append(tokens, string(char))
		default:
			current.WriteRune(char)
			started = true
		}
	}

	if quoteChar != 0 {
		return nil, ErrUnterminated
	}
	if escape {
		current.WriteRune('\\')
		started = true
	}
	flush()

	return tokens, nil
}
